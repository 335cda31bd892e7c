package services

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ZHIXINXIE/papereader/models"
)

// CollectionService verwaltet den Sammlungsbaum und die Paper-Zuordnungen.
// Der Baum ist eine flache Liste mit parent_id; die Adjazenz wird pro Fetch
// einmal als Index aufgebaut statt pro Knoten gefiltert.
type CollectionService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewCollectionService erstellt eine neue Instanz des CollectionService.
func NewCollectionService(db *gorm.DB, logger *zap.Logger) *CollectionService {
	return &CollectionService{DB: db, Logger: logger}
}

// List liefert alle Collections als flache Liste.
func (s *CollectionService) List() ([]models.Collection, error) {
	var cols []models.Collection
	if err := s.DB.Where("user_id = ?", DefaultUserID).Find(&cols).Error; err != nil {
		return nil, err
	}
	return cols, nil
}

// Create legt eine Collection an, optional unterhalb eines Parents. Ein
// frischer Knoten kann nie sein eigener Vorfahre sein, und Umhängen gibt es
// nicht; damit bleibt der Baum ohne weitere Prüfung azyklisch.
func (s *CollectionService) Create(name string, parentID *string) (*models.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: collection name must not be empty", ErrValidation)
	}
	if parentID != nil && *parentID != "" {
		var parent models.Collection
		if err := s.DB.Where("id = ? AND user_id = ?", *parentID, DefaultUserID).First(&parent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: parent collection %s", ErrNotFound, *parentID)
			}
			return nil, err
		}
	} else {
		parentID = nil
	}

	col := models.Collection{
		UserID:   DefaultUserID,
		Name:     name,
		ParentID: parentID,
	}
	if err := s.DB.Create(&col).Error; err != nil {
		return nil, err
	}

	s.Logger.Info("Collection created", zap.String("id", col.ID), zap.String("name", col.Name))
	return &col, nil
}

// Delete entfernt eine Collection samt aller Nachfahren und deren
// Paper-Zuordnungen (Kaskade). Die Papers selbst bleiben erhalten.
func (s *CollectionService) Delete(id string) error {
	var col models.Collection
	if err := s.DB.Where("id = ? AND user_id = ?", id, DefaultUserID).First(&col).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: collection %s", ErrNotFound, id)
		}
		return err
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var all []models.Collection
		if err := tx.Where("user_id = ?", DefaultUserID).Find(&all).Error; err != nil {
			return err
		}

		// Teilbaum über den Kind-Index einsammeln; das visited-Set hält die
		// Traversierung auch bei korrupten Daten endlich.
		index := ChildIndex(all)
		visited := map[string]bool{}
		subtree := []string{}
		queue := []string{id}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			subtree = append(subtree, cur)
			for _, child := range index[cur] {
				queue = append(queue, child.ID)
			}
		}

		if err := tx.Where("collection_id IN ?", subtree).Delete(&models.PaperCollection{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", subtree).Delete(&models.Collection{}).Error
	})
}

// ChildIndex baut die Adjazenz parent_id -> Kinder einmalig aus der flachen
// Liste auf. Wurzeln (und Waisen, deren Parent fehlt) stehen unter "".
func ChildIndex(cols []models.Collection) map[string][]models.Collection {
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c.ID] = true
	}
	index := make(map[string][]models.Collection)
	for _, c := range cols {
		parent := ""
		if c.ParentID != nil && known[*c.ParentID] {
			parent = *c.ParentID
		}
		index[parent] = append(index[parent], c)
	}
	return index
}

// CollectionNode ist ein Knoten der verschachtelten Baum-Ansicht.
type CollectionNode struct {
	models.Collection
	Children []CollectionNode `json:"children"`
}

// Tree liefert den Sammlungsbaum als verschachtelte Struktur. Fehlende
// Parents machen einen Knoten zur Wurzel; ein visited-Set verhindert
// Endlosschleifen bei korrupten Daten.
func (s *CollectionService) Tree() ([]CollectionNode, error) {
	cols, err := s.List()
	if err != nil {
		return nil, err
	}
	index := ChildIndex(cols)

	visited := map[string]bool{}
	var build func(c models.Collection) CollectionNode
	build = func(c models.Collection) CollectionNode {
		visited[c.ID] = true
		node := CollectionNode{Collection: c, Children: []CollectionNode{}}
		for _, child := range index[c.ID] {
			if visited[child.ID] {
				continue
			}
			node.Children = append(node.Children, build(child))
		}
		return node
	}

	roots := make([]CollectionNode, 0, len(index[""]))
	for _, c := range index[""] {
		roots = append(roots, build(c))
	}
	return roots, nil
}

// Papers liefert alle Papers einer Collection (lazy, erst beim Aufklappen).
func (s *CollectionService) Papers(collectionID string) ([]models.Paper, error) {
	var col models.Collection
	if err := s.DB.Where("id = ? AND user_id = ?", collectionID, DefaultUserID).First(&col).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: collection %s", ErrNotFound, collectionID)
		}
		return nil, err
	}
	var papers []models.Paper
	err := s.DB.
		Joins("JOIN paper_collections ON paper_collections.paper_id = papers.id").
		Where("paper_collections.collection_id = ?", collectionID).
		Find(&papers).Error
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// CollectionsOf liefert alle Collections, die ein Paper enthalten.
func (s *CollectionService) CollectionsOf(paperID string) ([]models.Collection, error) {
	var cols []models.Collection
	err := s.DB.
		Joins("JOIN paper_collections ON paper_collections.collection_id = collections.id").
		Where("paper_collections.paper_id = ?", paperID).
		Find(&cols).Error
	if err != nil {
		return nil, err
	}
	return cols, nil
}

// AddPaper ordnet ein Paper einer Collection zu. Idempotent: ein bereits
// vorhandenes Paar ist ein erfolgreicher No-Op, weil der Toggle in der
// Oberfläche mit veraltetem Zustand feuern kann.
func (s *CollectionService) AddPaper(collectionID, paperID string) error {
	var col models.Collection
	if err := s.DB.Where("id = ? AND user_id = ?", collectionID, DefaultUserID).First(&col).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: collection %s", ErrNotFound, collectionID)
		}
		return err
	}
	var paper models.Paper
	if err := s.DB.First(&paper, "id = ?", paperID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: paper %s", ErrNotFound, paperID)
		}
		return err
	}

	var count int64
	if err := s.DB.Model(&models.PaperCollection{}).
		Where("collection_id = ? AND paper_id = ?", collectionID, paperID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.DB.Create(&models.PaperCollection{CollectionID: collectionID, PaperID: paperID}).Error
}

// RemovePaper löst die Zuordnung. Ebenfalls idempotent: ein fehlendes Paar
// ist kein Fehler.
func (s *CollectionService) RemovePaper(collectionID, paperID string) error {
	return s.DB.
		Where("collection_id = ? AND paper_id = ?", collectionID, paperID).
		Delete(&models.PaperCollection{}).Error
}

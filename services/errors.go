package services

import "errors"

// Fehlertaxonomie der Services. Die Route-Schicht bildet sie auf HTTP-Codes
// ab (ErrValidation -> 400, ErrNotFound -> 404, ErrConflict -> 409); die
// Meldung geht unverändert an die Oberfläche.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// DefaultUserID identifiziert den einzigen (geseedeten) Nutzer des Tools.
const DefaultUserID = "default_user_id"

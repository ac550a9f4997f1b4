package models

import (
	"github.com/google/uuid"
)

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{}, &UserLimits{}, &UserUsage{}, &Session{},
		&UniqueKey{}, &Click{}, &UrlShortener{}, &Paste{}, &File{},
	}
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

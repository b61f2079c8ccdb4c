package domain

import "github.com/google/uuid"

func assignID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

package registry

import "github.com/cuemby/helios/internal/superr"

func notFound(kind, key string) error      { return superr.NewNotFound(kind, key) }
func alreadyExists(kind, key string) error { return superr.NewAlreadyExists(kind, key) }

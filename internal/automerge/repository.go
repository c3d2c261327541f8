package automerge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/logfields"
)

// Repository identifies a GitHub repository.
type Repository struct {
	OwnerLogin     string
	RepositoryName string
}

func (r Repository) String() string {
	return fmt.Sprintf("%s/%s", r.OwnerLogin, r.RepositoryName)
}

func (r Repository) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryOwner(r.OwnerLogin),
		logfields.Repository(r.RepositoryName),
	}
}

package inmemdb

import (
	"sync"

	"github.com/ethicsgate/ethicsgate/core/org"
	"github.com/ethicsgate/ethicsgate/core/proposal"
	"github.com/ethicsgate/ethicsgate/core/user"
)

// DB is an in-memory database for tests and local development.
// Tables share one lock so multi-table operations stay consistent.
type (
	DB struct {
		mutex sync.RWMutex

		orgs        map[string]*org.Organization
		users       map[string]*user.User
		proposals   map[string]*proposal.Proposal
		annotations map[string]*proposal.Annotation
		replies     map[string]*proposal.AnnotationReply
		reviews     map[string]*proposal.Review
	}
)

func Open() (*DB, error) {
	db := &DB{
		orgs:        make(map[string]*org.Organization),
		users:       make(map[string]*user.User),
		proposals:   make(map[string]*proposal.Proposal),
		annotations: make(map[string]*proposal.Annotation),
		replies:     make(map[string]*proposal.AnnotationReply),
		reviews:     make(map[string]*proposal.Review),
	}
	return db, nil
}

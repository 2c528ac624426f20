// Package service defines named node bundles shared between admins
// (as grants) and subscriptions (as selection).
package service

import (
	"time"

	"github.com/moguard-inc/moguard/internal/domain/node"
)

// Service is a named bundle of nodes.
type Service struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Remark string `gorm:"size:128;index" json:"remark"`

	Nodes []node.Node `gorm:"many2many:service_node_association" json:"nodes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Service) TableName() string {
	return "services"
}

// NodeIDs returns the ids of non-removed member nodes.
func (s *Service) NodeIDs() []uint {
	ids := make([]uint, 0, len(s.Nodes))
	for i := range s.Nodes {
		if !s.Nodes[i].Removed {
			ids = append(ids, s.Nodes[i].ID)
		}
	}
	return ids
}

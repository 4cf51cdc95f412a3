package authn

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nexusiam/controlplane/internal/audit"
	"github.com/nexusiam/controlplane/internal/data"
	"github.com/nexusiam/controlplane/internal/password"
)

const defaultAdminUsername = "admin"

// Bootstrap idempotently creates the default admin user if no user named
// "admin" exists yet. It must be safe to call on every startup.
func (s *Service) Bootstrap(ctx context.Context, defaultPassword string) error {
	_, err := s.Users.GetByUsername(ctx, defaultAdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return err
	}

	hash, err := password.Hash(defaultPassword)
	if err != nil {
		return err
	}

	u := &data.User{
		Username:      defaultAdminUsername,
		Email:         "admin@localhost",
		PasswordHash:  hash,
		Roles:         []string{"admin", "user"},
		PrimaryRole:   "admin",
		IsActive:      true,
		EmailVerified: true,
	}
	if err := s.Users.Create(ctx, u); err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			// Lost the create race against another instance; not an error.
			return nil
		}
		return err
	}

	log.Printf("authn: bootstrapped default admin user %q", u.Username)

	if s.Audit != nil {
		meta, _ := json.Marshal(map[string]string{"reason": "default_admin_bootstrap"})
		evt := audit.AuditEvent{
			EventID:     uuid.New(),
			ActorUserID: &u.ID,
			TargetType:  "user",
			TargetID:    u.ID.String(),
			Action:      "authn.bootstrap",
			Result:      "success",
			ReasonCode:  "default_admin_created_warning",
			Metadata:    meta,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.Audit.WriteEvent(ctx, evt); err != nil {
			log.Printf("authn: failed to write bootstrap audit record: %v", err)
		}
	}
	return nil
}

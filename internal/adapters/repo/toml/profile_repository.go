package toml

import (
	"context"
	"fmt"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/bnema/arena-relay/internal/ports"
)

// ProfileRepository reads identity profiles from profiles.toml. A missing file yields the
// built-in profiles.
type ProfileRepository struct {
	file catalogFile
}

var _ ports.ProfileRepository = (*ProfileRepository)(nil)

func NewProfileRepository(path string) (*ProfileRepository, error) {
	file, err := newCatalogFile(path, "profiles")
	if err != nil {
		return nil, err
	}
	return &ProfileRepository{file: file}, nil
}

func (r *ProfileRepository) List(ctx context.Context) ([]domain.IdentityProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.file.mu.RLock()
	defer r.file.mu.RUnlock()

	var doc profilesFile
	found, err := r.file.read(&doc)
	if err != nil {
		return nil, err
	}
	if err := validateVersion("profiles", doc.Version); err != nil {
		return nil, err
	}
	if !found || len(doc.Profiles) == 0 {
		return domain.DefaultIdentityProfiles(), nil
	}

	profiles := make([]domain.IdentityProfile, 0, len(doc.Profiles))
	for _, entry := range doc.Profiles {
		profile := fromProfileSchema(entry)
		if err := profile.Validate(); err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// SaveAll replaces the stored profiles.
func (r *ProfileRepository) SaveAll(ctx context.Context, profiles []domain.IdentityProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("save profiles: %w", err)
		}
	}

	doc := profilesFile{Version: currentSchemaVersion}
	for _, p := range profiles {
		doc.Profiles = append(doc.Profiles, toProfileSchema(p))
	}

	r.file.mu.Lock()
	defer r.file.mu.Unlock()
	return r.file.write(doc)
}

func (r *ProfileRepository) Path() string { return r.file.path }

func toProfileSchema(p domain.IdentityProfile) profileSchema {
	return profileSchema{
		Name:        p.Name,
		UserAgent:   p.UserAgent,
		Platform:    p.Platform,
		Locale:      p.Locale,
		Width:       p.Viewport.Width,
		Height:      p.Viewport.Height,
		ClientHints: p.ClientHints,
	}
}

func fromProfileSchema(s profileSchema) domain.IdentityProfile {
	return domain.IdentityProfile{
		Name:        s.Name,
		UserAgent:   s.UserAgent,
		Platform:    s.Platform,
		Locale:      s.Locale,
		Viewport:    domain.Viewport{Width: s.Width, Height: s.Height},
		ClientHints: s.ClientHints,
	}
}

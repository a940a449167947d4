package ca

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/acme"
)

// KeyAuthorizer computes http-01 key authorizations. *acme.Client
// satisfies it.
type KeyAuthorizer interface {
	HTTP01ChallengeResponse(token string) (string, error)
	HTTP01ChallengePath(token string) string
}

// WebrootSolver answers http-01 challenges by writing the key
// authorization under Dir, which a web server must publish at the root of
// every identifier.
type WebrootSolver struct {
	Dir    string
	Client KeyAuthorizer
}

var _ ChallengeSolver = (*WebrootSolver)(nil)

func (s *WebrootSolver) Types() []string { return []string{"http-01"} }

func (s *WebrootSolver) Present(_ context.Context, _ *acme.Authorization, chal *acme.Challenge) error {
	path, err := s.path(chal.Token)
	if err != nil {
		return err
	}
	body, err := s.Client.HTTP01ChallengeResponse(chal.Token)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create challenge directory: %w", err)
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func (s *WebrootSolver) CleanUp(_ context.Context, _ *acme.Authorization, chal *acme.Challenge) error {
	path, err := s.path(chal.Token)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// path maps a token to a file under Dir; tokens carrying path separators
// are refused.
func (s *WebrootSolver) path(token string) (string, error) {
	if token == "" || strings.ContainsAny(token, `/\`) || token == "." || token == ".." {
		return "", fmt.Errorf("invalid challenge token %q", token)
	}
	rel := strings.TrimPrefix(s.Client.HTTP01ChallengePath(token), "/")
	return filepath.Join(s.Dir, filepath.FromSlash(rel)), nil
}

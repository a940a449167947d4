//go:build cgo

package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// maxIdleSessions bounds the sessions a pool keeps open between calls.
const maxIdleSessions = 8

type tokenKey struct {
	module string
	slot   uint
}

// sessionPool shares one initialized module and its logged-in sessions
// between every signer on the same (module, slot). Lock order: poolsMu
// before p.mu.
type sessionPool struct {
	key tokenKey
	ctx *pkcs11.Ctx
	pin string

	mu       sync.Mutex
	idle     []pkcs11.SessionHandle
	busy     map[pkcs11.SessionHandle]struct{}
	loggedIn bool
	closed   bool
}

var (
	poolsMu sync.Mutex
	pools   = make(map[tokenKey]*sessionPool)
)

// openPool returns the pool for module and slot, loading the module on
// first use.
func openPool(module string, slot uint, pin string) (*sessionPool, error) {
	key := tokenKey{module: module, slot: slot}

	poolsMu.Lock()
	defer poolsMu.Unlock()
	if p, ok := pools[key]; ok {
		return p, nil
	}

	ctx := pkcs11.New(module)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", module)
	}
	if err := ctx.Initialize(); err != nil && !isP11(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		ctx.Destroy()
		return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
	}
	p := &sessionPool{key: key, ctx: ctx, pin: pin, busy: make(map[pkcs11.SessionHandle]struct{})}
	pools[key] = p
	return p, nil
}

func isP11(err error, code uint) bool {
	var e pkcs11.Error
	return errors.As(err, &e) && uint(e) == code
}

// do runs fn on a logged-in session. The session goes back to the idle
// list afterwards, or is closed when the list is full.
func (p *sessionPool) do(fn func(ctx *pkcs11.Ctx, s pkcs11.SessionHandle) error) error {
	s, err := p.take()
	if err != nil {
		return err
	}
	defer p.give(s)
	return fn(p.ctx, s)
}

func (p *sessionPool) take() (pkcs11.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("PKCS#11 session pool is closed")
	}

	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.busy[s] = struct{}{}
		return s, nil
	}

	s, err := p.ctx.OpenSession(p.key.slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return 0, fmt.Errorf("failed to open session: %w", err)
	}
	// Login state is per token, so the first session logs in for all.
	if p.pin != "" && !p.loggedIn {
		if err := p.ctx.Login(s, pkcs11.CKU_USER, p.pin); err != nil && !isP11(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
			_ = p.ctx.CloseSession(s)
			return 0, fmt.Errorf("failed to login: %w", err)
		}
		p.loggedIn = true
	}
	p.busy[s] = struct{}{}
	return s, nil
}

func (p *sessionPool) give(s pkcs11.SessionHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, s)
	if p.closed {
		// Finalize already closed it.
		return
	}
	if len(p.idle) >= maxIdleSessions {
		_ = p.ctx.CloseSession(s)
		return
	}
	p.idle = append(p.idle, s)
}

// close logs out, closes every session and finalizes the module. The caller
// must hold poolsMu.
func (p *sessionPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	delete(pools, p.key)

	var errs []error
	if len(p.idle) > 0 && p.loggedIn {
		if err := p.ctx.Logout(p.idle[0]); err != nil && !isP11(err, pkcs11.CKR_USER_NOT_LOGGED_IN) {
			errs = append(errs, fmt.Errorf("logout: %w", err))
		}
	}
	for _, s := range p.idle {
		if err := p.ctx.CloseSession(s); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	p.idle = nil

	if err := p.ctx.Finalize(); err != nil && !isP11(err, pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED) {
		errs = append(errs, fmt.Errorf("finalize: %w", err))
	}
	p.ctx.Destroy()
	return errors.Join(errs...)
}

// CloseAllPools closes every PKCS#11 module opened by this process.
func CloseAllPools() {
	poolsMu.Lock()
	defer poolsMu.Unlock()
	for _, p := range pools {
		_ = p.close()
	}
}

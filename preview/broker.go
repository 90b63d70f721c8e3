// Package preview mints and redeems single-use inline-view tokens. A
// preview token is a signed child of a grant token: redeeming it streams the
// blob inline without touching the parent's download count.
package preview

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
)

var (
	// ErrInvalidToken means the token failed signature or format checks.
	ErrInvalidToken = errors.New("preview: invalid token")
	// ErrSpent means the token was valid once but is expired or already used.
	ErrSpent = errors.New("preview: token expired or already used")
)

const keyPrefix = "preview:"

// Broker issues and redeems preview tokens against the ephemeral store. The
// token itself is self-authenticating; the KV record only tracks uses so a
// token cannot be replayed.
type Broker struct {
	kv      store.KV
	secret  []byte
	ttl     time.Duration
	maxUses int

	now func() time.Time
}

func NewBroker(kv store.KV, secret string, ttl time.Duration) *Broker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Broker{
		kv:      kv,
		secret:  []byte(secret),
		ttl:     ttl,
		maxUses: 1,
		now:     time.Now,
	}
}

// SetClock overrides the broker clock. Test use only.
func (b *Broker) SetClock(now func() time.Time) {
	b.now = now
}

func (b *Broker) sign(parentToken string, issuedAt int64) string {
	mac := hmac.New(sha256.New, b.secret)
	fmt.Fprintf(mac, "%s.%d", parentToken, issuedAt)
	return hex.EncodeToString(mac.Sum(nil))
}

func recordKey(parentToken, previewToken string) string {
	return keyPrefix + parentToken + ":" + previewToken
}

// Issue mints a preview token for the parent grant and stores its use
// record with the broker TTL.
func (b *Broker) Issue(ctx context.Context, parentToken string) (*models.PreviewGrant, error) {
	issuedAt := b.now()
	token := strconv.FormatInt(issuedAt.Unix(), 10) + "." + b.sign(parentToken, issuedAt.Unix())

	p := &models.PreviewGrant{
		ParentToken:  parentToken,
		PreviewToken: token,
		IssuedAt:     issuedAt.Truncate(time.Second),
		TTLSeconds:   int64(b.ttl / time.Second),
		MaxUses:      b.maxUses,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := b.kv.SetBytes(ctx, recordKey(parentToken, token), raw, b.ttl); err != nil {
		return nil, fmt.Errorf("store preview record: %w", err)
	}
	return p, nil
}

// Redeem validates and spends a preview token. Signature failures report
// ErrInvalidToken; a structurally valid token whose record is gone, expired
// or used up reports ErrSpent. The parent grant's download count is never
// touched.
//
// The spend is an atomic take at the store: of concurrent redeemers exactly
// one obtains the record, so a single-use token cannot be redeemed twice.
// When uses remain the record is written back with its remaining TTL.
func (b *Broker) Redeem(ctx context.Context, parentToken, previewToken string) error {
	issuedStr, sig, ok := strings.Cut(previewToken, ".")
	if !ok {
		return ErrInvalidToken
	}
	issuedAt, err := strconv.ParseInt(issuedStr, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(b.sign(parentToken, issuedAt))) {
		return ErrInvalidToken
	}

	key := recordKey(parentToken, previewToken)
	raw, found, err := b.kv.TakeBytes(ctx, key)
	if err != nil {
		return fmt.Errorf("take preview record: %w", err)
	}
	if !found {
		return ErrSpent
	}
	var p models.PreviewGrant
	if err := json.Unmarshal(raw, &p); err != nil {
		return ErrSpent
	}

	now := b.now()
	if !now.Before(p.ExpiresAt()) || p.UsedCount >= p.MaxUses {
		return ErrSpent
	}

	p.UsedCount++
	if p.UsedCount >= p.MaxUses {
		return nil
	}
	updated, err := json.Marshal(&p)
	if err != nil {
		return err
	}
	if err := b.kv.SetBytes(ctx, key, updated, p.ExpiresAt().Sub(now)); err != nil {
		return fmt.Errorf("restore preview record: %w", err)
	}
	return nil
}

package access

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/zeebo/blake3"

	"nithronos/device/nosfw/internal/fsatomic"
)

const SessionCookieName = "nosfw_sess"

const sessionTTL = 12 * time.Hour

// Session is what a successful Basic challenge is exchanged for, so browsers
// and scripts do not pay an Argon2 verification on every request.
type Session struct {
	User     string `json:"u"`
	Tag      string `json:"t"`
	IssuedAt int64  `json:"i"`
}

type SessionCodec struct {
	sc *securecookie.SecureCookie
}

func NewSessionCodec(hashKey, blockKey []byte) *SessionCodec {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL / time.Second))
	return &SessionCodec{sc: sc}
}

func (c *SessionCodec) Encode(s Session) (string, error) {
	return c.sc.Encode(SessionCookieName, s)
}

func (c *SessionCodec) Decode(value string) (Session, bool) {
	var s Session
	if err := c.sc.Decode(SessionCookieName, value, &s); err != nil {
		return Session{}, false
	}
	return s, true
}

// Cookie wraps an encoded session for the response.
func (c *SessionCodec) Cookie(s Session, secure bool) (*http.Cookie, error) {
	val, err := c.Encode(s)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    val,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   secure,
		MaxAge:   int(sessionTTL / time.Second),
	}, nil
}

// credentialTag binds sessions to the stored credential; re-provisioning
// changes the tag and strands every outstanding cookie.
func credentialTag(user, storedSecret string) string {
	sum := blake3.Sum256([]byte(user + "\x00" + storedSecret))
	return hex.EncodeToString(sum[:8])
}

type keyFile struct {
	Hash  string `json:"hash"`
	Block string `json:"block"`
}

// ErrKeysNotPersisted accompanies usable keys that could not be saved.
// Sessions issued with them end at the next restart.
var ErrKeysNotPersisted = errors.New("session keys not persisted")

// LoadOrCreateKeys returns the cookie keys stored at path, minting and
// persisting a fresh pair on first boot or when the file is unusable. When
// only the save fails the fresh keys are returned with ErrKeysNotPersisted.
func LoadOrCreateKeys(path string) (hashKey, blockKey []byte, err error) {
	var kf keyFile
	if ok, lerr := fsatomic.LoadJSON(path, &kf); ok && lerr == nil {
		h, herr := base64.StdEncoding.DecodeString(kf.Hash)
		b, berr := base64.StdEncoding.DecodeString(kf.Block)
		if herr == nil && berr == nil && len(h) == 64 && len(b) == 32 {
			return h, b, nil
		}
	}
	hashKey = securecookie.GenerateRandomKey(64)
	blockKey = securecookie.GenerateRandomKey(32)
	if hashKey == nil || blockKey == nil {
		return nil, nil, errors.New("session keys: no entropy")
	}
	kf = keyFile{
		Hash:  base64.StdEncoding.EncodeToString(hashKey),
		Block: base64.StdEncoding.EncodeToString(blockKey),
	}
	if err := fsatomic.SaveJSON(context.Background(), path, kf, 0o600); err != nil {
		return hashKey, blockKey, fmt.Errorf("%w: %w", ErrKeysNotPersisted, err)
	}
	return hashKey, blockKey, nil
}

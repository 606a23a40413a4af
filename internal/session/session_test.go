package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/workflow/packets", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestJWTResolver(t *testing.T) {
	res := NewJWTResolver("test-secret", "tradeflow", "")
	token, err := res.Issue("ws1", "user-1", time.Hour)
	require.NoError(t, err)

	ws, ok := res.Resolve(request(map[string]string{"Authorization": "Bearer " + token}))
	assert.True(t, ok)
	assert.Equal(t, "ws1", ws)

	_, ok = res.Resolve(request(nil))
	assert.False(t, ok, "missing header")

	_, ok = res.Resolve(request(map[string]string{"Authorization": "Basic abc"}))
	assert.False(t, ok, "wrong scheme")

	other := NewJWTResolver("other-secret", "tradeflow", "")
	_, ok = other.Resolve(request(map[string]string{"Authorization": "Bearer " + token}))
	assert.False(t, ok, "wrong secret")

	wrongIssuer := NewJWTResolver("test-secret", "someone-else", "")
	_, ok = wrongIssuer.Resolve(request(map[string]string{"Authorization": "Bearer " + token}))
	assert.False(t, ok, "wrong issuer")
}

func TestJWTResolverRejectsExpiredAndUnsigned(t *testing.T) {
	res := NewJWTResolver("test-secret", "", "")

	expired, err := res.Issue("ws1", "", -time.Minute)
	require.NoError(t, err)
	_, err = res.Verify(expired)
	assert.Error(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"workspace_id": "ws1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = res.Verify(unsigned)
	assert.Error(t, err)
}

func TestJWTResolverCustomClaim(t *testing.T) {
	res := NewJWTResolver("test-secret", "", "tenant")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"tenant": "ws-7"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	ws, err := res.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ws-7", ws)

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"workspace_id": "ws-7"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = res.Verify(token)
	assert.Error(t, err, "claim missing")
}

func TestHeaderResolver(t *testing.T) {
	ws, ok := HeaderResolver{}.Resolve(request(map[string]string{WorkspaceHeader: "ws1"}))
	assert.True(t, ok)
	assert.Equal(t, "ws1", ws)

	_, ok = HeaderResolver{}.Resolve(request(map[string]string{WorkspaceHeader: "bad id!"}))
	assert.False(t, ok)
}

func TestNewChain(t *testing.T) {
	_, ok := New("", "", "", false).Resolve(request(map[string]string{WorkspaceHeader: "ws1"}))
	assert.False(t, ok, "nothing configured fails closed")

	ws, ok := New("secret", "", "", true).Resolve(request(map[string]string{WorkspaceHeader: "ws2"}))
	assert.True(t, ok)
	assert.Equal(t, "ws2", ws)
}

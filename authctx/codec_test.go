package authctx

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := New(
		"st_1",
		"https://example.com/login?otherparam=foo",
		"https://idp.example.com/auth?state=st_1",
		"rid_1",
		WithRedirectURL("https://example.com/app"),
		WithCodeVerifier("abcdef0123456789"),
	)
	require.NoError(t, err)
	return ctx
}

func TestNewCodec(t *testing.T) {
	t.Parallel()
	t.Run("valid", func(t *testing.T) {
		c, err := NewCodec("host-key")
		require.NoError(t, err)
		assert.NotNil(t, c)
	})
	t.Run("empty-host-key", func(t *testing.T) {
		c, err := NewCodec("")
		require.Error(t, err)
		assert.Nil(t, c)
		assert.True(t, errors.Is(err, ErrInvalidParameter))
	})
}

func TestCodec_roundTrip(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	codec, err := NewCodec("host-key")
	require.NoError(err)

	ctx := testContext(t)
	token, err := codec.Encode(ctx)
	require.NoError(err)
	require.NotEmpty(token)

	got, err := codec.Decode(token)
	require.NoError(err)
	assert.Equal(ctx, got)
}

func TestCodec_Decode_failsClosed(t *testing.T) {
	t.Parallel()
	codec, err := NewCodec("host-key")
	require.NoError(t, err)
	token, err := codec.Encode(testContext(t))
	require.NoError(t, err)

	t.Run("flipped-signature-bit", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		last := token[len(token)-1]
		flipped := byte('A')
		if last == flipped {
			flipped = 'B'
		}
		tampered := token[:len(token)-1] + string(flipped)
		require.NotEqual(token, tampered)

		got, err := codec.Decode(tampered)
		require.Error(err)
		assert.Nil(got)
		assert.True(errors.Is(err, ErrInvalidSignature))
	})
	t.Run("tampered-payload", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := strings.Split(token, ".")
		require.Len(parts, 3)
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]

		got, err := codec.Decode(tampered)
		require.Error(err)
		assert.Nil(got)
	})
	t.Run("token-from-other-installation", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		other, err := NewCodec("some-other-host-key")
		require.NoError(err)
		foreign, err := other.Encode(testContext(t))
		require.NoError(err)

		got, err := codec.Decode(foreign)
		require.Error(err)
		assert.Nil(got)
		assert.True(errors.Is(err, ErrInvalidSignature))
	})
	t.Run("empty", func(t *testing.T) {
		assert := assert.New(t)
		got, err := codec.Decode("")
		assert.Error(err)
		assert.Nil(got)
		assert.True(errors.Is(err, ErrMalformed))
	})
	t.Run("garbage", func(t *testing.T) {
		assert := assert.New(t)
		got, err := codec.Decode("not.a.token")
		assert.Error(err)
		assert.Nil(got)
		assert.True(errors.Is(err, ErrMalformed))
	})
	t.Run("valid-signature-missing-fields", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		// a correctly signed token whose payload lacks required fields
		// must still be rejected
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"st": "st_1",
		}).SignedString(codec.key)
		require.NoError(err)

		got, err := codec.Decode(signed)
		require.Error(err)
		assert.Nil(got)
		assert.True(errors.Is(err, ErrMalformed))
	})
}

package securemem_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMALI-DEFI/Imali-sub000/internal/securemem"
)

func TestMain(m *testing.M) {
	securemem.WorkFactor = 10
	os.Exit(m.Run())
}

func TestSecret_Lifecycle(t *testing.T) {
	t.Parallel()

	src := []byte("correct horse battery staple")
	s := securemem.FromBytes(src, true)

	assert.Equal(t, make([]byte, len(src)), src, "source is zeroed")
	assert.Equal(t, "correct horse battery staple", string(s.Bytes()))
	assert.Equal(t, 28, s.Len())

	buf := s.Bytes()
	s.Destroy()
	assert.Nil(t, s.Bytes())
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Locked())
	assert.Equal(t, make([]byte, len(buf)), buf, "buffer is zeroed on destroy")

	s.Destroy()
}

func TestSecret_Unlocked(t *testing.T) {
	t.Parallel()

	s := securemem.New(32, false)
	defer s.Destroy()
	assert.False(t, s.Locked())
	assert.Equal(t, 32, s.Len())
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	sealed, err := securemem.Seal([]byte("abandon ability able"), "hunter22")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "abandon")

	s, err := securemem.Open(sealed, "hunter22", false)
	require.NoError(t, err)
	defer s.Destroy()
	assert.Equal(t, "abandon ability able", string(s.Bytes()))
}

func TestOpen_WrongPassphrase(t *testing.T) {
	t.Parallel()

	sealed, err := securemem.Seal([]byte("secret"), "right")
	require.NoError(t, err)

	_, err = securemem.Open(sealed, "wrong", false)
	require.ErrorIs(t, err, securemem.ErrWrongPassphrase)
}

func TestOpen_Garbage(t *testing.T) {
	t.Parallel()

	_, err := securemem.Open([]byte("not an age file"), "pw", false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, securemem.ErrWrongPassphrase)
}

func TestZero(t *testing.T) {
	t.Parallel()

	b := []byte{1, 2, 3}
	securemem.Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}

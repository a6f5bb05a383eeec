package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	for _, size := range []int{0, 1, 100, MaxPayload} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i%251 + 1) // never zero, so trimming can't eat real bytes
		}
		idx, err := s.Append(payload)
		require.NoError(t, err)
		got, err := s.Read(idx)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}

func TestZeroLengthPayloadReadsAsEmpty(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	idx, err := s.Append(nil)
	require.NoError(t, err)
	got, err := s.Read(idx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestTooLargePayloadFailsWithoutMutating(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	err = s.Write(0, make([]byte, MaxPayload+1))
	require.ErrorIs(t, err, ErrTooLarge)

	total, _, fileBytes, err := s.Stats()
	require.NoError(t, err)
	require.Zero(t, total)
	require.Zero(t, fileBytes)
}

func TestReadPastEndOfFileReturnsNoneNotError(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Read(42)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteZeroesAndIsOrphanFree(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	idx, err := s.Append([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(idx))

	got, err := s.Read(idx)
	require.NoError(t, err)
	require.Nil(t, got)

	_, orphaned, _, err := s.Stats()
	require.NoError(t, err)
	require.Zero(t, orphaned)
}

func TestStatsCountsOrphanedPages(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append([]byte("ok"))
	require.NoError(t, err)

	// Corrupt a second page directly, bypassing Write, to simulate an
	// orphaned page (header present but malformed).
	garbage := make([]byte, PageSize)
	garbage[0] = 'X'
	garbage[1] = 'X'
	garbage[2] = 'X'
	garbage[3] = 'X'
	garbage[4] = 0x01
	_, err = s.f.WriteAt(garbage, PageSize)
	require.NoError(t, err)
	s.totalSize = 2 * PageSize

	total, orphaned, _, err := s.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.EqualValues(t, 1, orphaned)

	_, err = s.Read(1)
	require.ErrorIs(t, err, ErrInvalidHeader)
}

func TestPartialTrailingPageIgnoredByStats(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append([]byte("one full page"))
	require.NoError(t, err)
	s.totalSize += PageSize / 2 // simulate a short trailing remainder

	total, _, _, err := s.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

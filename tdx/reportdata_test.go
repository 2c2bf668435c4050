package tdx

import (
	"encoding/base64"
	"math/bits"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedVector is SHA-512("12345678" || "abcdefg").
var fixedVector = [ReportDataSize]byte{
	93, 71, 28, 83, 115, 189, 166, 130, 87, 137, 126, 119, 140, 209, 163, 215,
	13, 175, 225, 101, 64, 195, 196, 202, 15, 37, 166, 241, 141, 49, 128, 157,
	164, 132, 67, 50, 9, 32, 162, 89, 243, 191, 177, 131, 4, 159, 156, 104,
	11, 193, 18, 217, 92, 215, 194, 98, 145, 191, 211, 85, 187, 118, 39, 80,
}

func TestBindReportData(t *testing.T) {
	testCases := map[string]struct {
		nonce    []byte
		userData []byte
		want     [ReportDataSize]byte
		wantErr  error
	}{
		"nonce and user data": {
			nonce:    []byte("12345678"),
			userData: []byte("abcdefg"),
			want:     fixedVector,
		},
		"concatenation is hashed": {
			nonce: []byte("12345678abcdefg"),
			want:  fixedVector,
		},
		"empty user data is absent": {
			nonce:    []byte("12345678abcdefg"),
			userData: []byte{},
			want:     fixedVector,
		},
		"empty nonce": {
			userData: []byte("abcdefg"),
			wantErr:  ErrEmptyNonce,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			reportData, err := BindReportData(tc.nonce, tc.userData)
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, reportData)
		})
	}
}

func TestBindReportDataProperties(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	nonce := []byte("nonce")
	userData := []byte("user data")

	first, err := BindReportData(nonce, userData)
	require.NoError(err)
	second, err := BindReportData(nonce, userData)
	require.NoError(err)
	assert.Equal(first, second)

	flipped := []byte("user data")
	flipped[0] ^= 0x01
	third, err := BindReportData(nonce, flipped)
	require.NoError(err)
	assert.NotEqual(first, third)

	flippedNonce := []byte("nonce")
	flippedNonce[4] ^= 0x80
	fourth, err := BindReportData(flippedNonce, userData)
	require.NoError(err)
	assert.NotEqual(first, fourth)

	swapped, err := BindReportData(userData, nonce)
	require.NoError(err)
	assert.NotEqual(first, swapped)
}

func TestBindReportDataAvalanche(t *testing.T) {
	nonce := []byte("0123456789abcdef0123456789abcdef")
	userData := []byte("user data bound into the report")

	base, err := BindReportData(nonce, userData)
	require.NoError(t, err)

	testCases := map[string]func(bit int) ([ReportDataSize]byte, error){
		"nonce": func(bit int) ([ReportDataSize]byte, error) {
			flipped := append([]byte(nil), nonce...)
			flipped[bit/8] ^= 1 << (bit % 8)
			return BindReportData(flipped, userData)
		},
		"user data": func(bit int) ([ReportDataSize]byte, error) {
			flipped := append([]byte(nil), userData...)
			flipped[bit/8] ^= 1 << (bit % 8)
			return BindReportData(nonce, flipped)
		},
	}

	for name, flip := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			flips := 8 * len(userData)
			total := 0
			for bit := 0; bit < flips; bit++ {
				got, err := flip(bit)
				require.NoError(err)

				changed := 0
				for i := range got {
					changed += bits.OnesCount8(got[i] ^ base[i])
				}
				assert.Greater(changed, 180, "bit %d", bit)
				assert.Less(changed, 332, "bit %d", bit)
				total += changed
			}

			// about half of the 512 output bits change on average
			mean := float64(total) / float64(flips)
			assert.InDelta(8*ReportDataSize/2, mean, 16)
		})
	}
}

func TestBindReportDataBase64(t *testing.T) {
	tooLarge := base64.StdEncoding.EncodeToString(make([]byte, MaxInputSize+1))
	maxSize := base64.StdEncoding.EncodeToString(make([]byte, MaxInputSize))

	testCases := map[string]struct {
		nonce    string
		userData string
		wantErr  error
	}{
		"valid": {
			nonce:    "MTIzNDU2Nzg=",
			userData: "YWJjZGVmZw==",
		},
		"no user data": {
			nonce: "MTIzNDU2Nzg=",
		},
		"largest input": {
			nonce:    maxSize,
			userData: maxSize,
		},
		"empty nonce": {
			userData: "YWJjZGVmZw==",
			wantErr:  ErrEmptyNonce,
		},
		"invalid nonce": {
			nonce:   "MTIzNDU2Nzg",
			wantErr: ErrInputEncoding,
		},
		"invalid user data": {
			nonce:    "MTIzNDU2Nzg=",
			userData: "%%%",
			wantErr:  ErrInputEncoding,
		},
		"URL encoding is rejected": {
			nonce:   "-_-_",
			wantErr: ErrInputEncoding,
		},
		"nonce too large": {
			nonce:   tooLarge,
			wantErr: ErrInputTooLarge,
		},
		"user data too large": {
			nonce:    "MTIzNDU2Nzg=",
			userData: tooLarge,
			wantErr:  ErrInputTooLarge,
		},
		"huge input is rejected before decoding": {
			nonce:   strings.Repeat("A", 4*MaxInputSize),
			wantErr: ErrInputTooLarge,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			_, err := BindReportDataBase64(tc.nonce, tc.userData)
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				return
			}
			assert.NoError(err)
		})
	}

	reportData, err := BindReportDataBase64("MTIzNDU2Nzg=", "YWJjZGVmZw==")
	require.NoError(t, err)
	assert.Equal(t, fixedVector, reportData)
}

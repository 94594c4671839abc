package process

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsListable(t *testing.T) {
	assert.True(t, IsListable("com.example.game"))
	assert.True(t, IsListable("surfaceflinger"))
	assert.False(t, IsListable(""))
	assert.False(t, IsListable("[kworker/0:1]"))
	assert.False(t, IsListable("/system/bin/init"))
}

func TestErrorTaxonomy(t *testing.T) {
	err := fmt.Errorf("scan: %w", &ScanAbortedError{PID: 3, Err: ErrProcessGone})
	assert.True(t, IsProcessGone(err))

	var sa *ScanAbortedError
	assert.True(t, errors.As(err, &sa))
	assert.Equal(t, ProcessID(3), sa.PID)

	wf := &WriteFailure{PID: 3, Address: 0x1000, Err: ErrPermissionDenied}
	assert.ErrorIs(t, wf, ErrPermissionDenied)
	assert.Contains(t, wf.Error(), "0x1000")

	assert.False(t, IsProcessGone(&InvalidCriteriaError{Input: "x", Reason: "bad"}))
}

func TestParseAddress(t *testing.T) {
	for in, want := range map[string]ProcessMemoryAddress{
		"0x7f001000": 0x7f001000,
		"7F001000":   0x7f001000,
		" 0XAb ":     0xab,
	} {
		got, err := ParseAddress(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAddress("0xzz")
	var ce *InvalidCriteriaError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "0x1F", ProcessMemoryAddress(31).ToString())
}

type listDirectory []ProcessInfo

func (d listDirectory) Processes() ([]ProcessInfo, error) { return d, nil }

func (d listDirectory) IsRunning(pid ProcessID) bool {
	for _, p := range d {
		if p.PID == pid {
			return true
		}
	}
	return false
}

func TestFindByName(t *testing.T) {
	dir := listDirectory{
		{PID: 900, Name: "com.example.game"},
		{PID: 120, Name: "com.example.game --restart"},
		{PID: 50, Name: "com.example.gamepad"},
	}

	found, err := FindByName(dir, "com.example.game")
	assert.NoError(t, err)
	if assert.Len(t, found, 2) {
		assert.Equal(t, ProcessID(120), found[0].PID)
		assert.Equal(t, ProcessID(900), found[1].PID)
	}
}

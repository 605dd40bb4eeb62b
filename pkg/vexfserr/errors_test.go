package vexfserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := Wrap(NoSpace, "alloc.AllocBlocks", "no free blocks")
	assert.True(t, errors.Is(err, ErrNoSpace))
	assert.False(t, errors.Is(err, ErrNoInode))
}

func TestKindOf(t *testing.T) {
	err := New(ChecksumMismatch, "block.ReadChecked", nil)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ChecksumMismatch, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := New(NoSpace, "alloc.AllocBlocks", cause)
	assert.ErrorIs(t, err, cause)
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 999
	assert.Equal(t, "unknown-error", k.String())
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(NoInode, "inode.CreateInode", nil)
	assert.Contains(t, err.Error(), "no-inode")
	assert.Contains(t, err.Error(), "inode.CreateInode")
}

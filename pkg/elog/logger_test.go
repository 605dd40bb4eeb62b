package elog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscardNeverPanics(t *testing.T) {
	Discard.Infof("formatting %s", "x")
	Discard.Debugf("debug")
	Discard.Warnf("warn")
	Discard.Errorf("err")
	Discard.Printf("print")
	assert.False(t, Discard.IsInfoEnabled())
	assert.False(t, Discard.IsDebugEnabled())
}

func TestDiscardProgressIsNoOp(t *testing.T) {
	p := Discard.NewProgress("replaying journal", "blocks", 10)
	p.Increment(5)
	p.Finish(true)
}

func TestCLIDisableTTYReturnsNilProgress(t *testing.T) {
	log := &CLI{DisableTTY: true}
	p := log.NewProgress("rebuilding index", "blocks", 100)
	n, err := p.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	p.Increment(1)
	p.Finish(true)
}

func TestSizeField(t *testing.T) {
	assert.Equal(t, "1M", SizeField(1024*1024))
}

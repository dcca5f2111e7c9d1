package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// Driver is the subset of *consensus.Driver the RPC surface needs. Declared
// here rather than imported so handler tests can exercise a fake without
// wiring a full forest/schedule/mempool stack.
type Driver interface {
	SubmitTransaction(tx *types.Transaction) error
	TipBlock() *types.Block
	ConfirmedHeight() uint64
	FinalizedHeight() uint64
	AccountAt(addr crypto.Pubkey, commitmentLevel string) (*types.Account, error)
	BlockAt(height uint64) (*types.Block, bool)
	LookupTransaction(hash crypto.Hash) (height uint64, commitmentLevel string, record *types.TxRecord, found bool)
}

// Handlers implements the five HTTP endpoints of spec §6 against a Driver.
type Handlers struct {
	driver Driver
	logger Logger
}

// NewHandlers builds Handlers backed by driver.
func NewHandlers(driver Driver, logger Logger) *Handlers {
	return &Handlers{driver: driver, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// HandleSubmitTransactions handles POST /transactions: a JSON array of wire
// transactions, admitted into the mempool and broadcast one at a time. The
// response reports "ok" or the admission failure reason per transaction, in
// the submitted order, regardless of whether any individual one failed.
func (h *Handlers) HandleSubmitTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var txs []*types.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	results := make([]map[string]string, 0, len(txs))
	for _, tx := range txs {
		hash := tx.Hash()
		status := "ok"
		if err := h.driver.SubmitTransaction(tx); err != nil {
			status = err.Error()
		}
		results = append(results, map[string]string{hash.String(): status})
	}

	writeJSON(w, http.StatusAccepted, results)
}

// HandleGetTransaction handles GET /transaction/{hash}.
func (h *Handlers) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/transaction/")
	if raw == "" || raw == r.URL.Path {
		writeJSONError(w, "transaction hash required", http.StatusBadRequest)
		return
	}
	hash, err := crypto.HashFromBase58(raw)
	if err != nil {
		writeJSONError(w, "invalid transaction hash", http.StatusBadRequest)
		return
	}

	height, commitmentLevel, record, found := h.driver.LookupTransaction(hash)
	if !found {
		writeJSONError(w, "transaction not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"block":       height,
		"commitment":  commitmentLevel,
		"hash":        hash,
		"output":      record.Output,
		"transaction": record.Transaction,
	})
}

// HandleGetAccount handles GET /account/{addr}?commitment=confirmed|finalized.
func (h *Handlers) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/account/")
	if raw == "" || raw == r.URL.Path {
		writeJSONError(w, "account address required", http.StatusBadRequest)
		return
	}
	addr, err := crypto.PubkeyFromBase58(raw)
	if err != nil {
		writeJSONError(w, "invalid account address", http.StatusBadRequest)
		return
	}

	commitmentLevel := r.URL.Query().Get("commitment")
	if commitmentLevel == "" {
		commitmentLevel = "confirmed"
	}
	if commitmentLevel != "confirmed" && commitmentLevel != "finalized" {
		writeJSONError(w, "commitment must be confirmed or finalized", http.StatusBadRequest)
		return
	}

	account, err := h.driver.AccountAt(addr, commitmentLevel)
	if err != nil {
		h.logger.Printf("rpc: account lookup %s: %v", addr, err)
		writeJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if account == nil {
		writeJSONError(w, "account not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"account": account})
}

// HandleInfo handles GET /info.
func (h *Handlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	confirmedHeight := h.driver.ConfirmedHeight()
	finalizedHeight := h.driver.FinalizedHeight()

	info := map[string]interface{}{
		"confirmed": map[string]interface{}{"height": confirmedHeight},
		"finalized": map[string]interface{}{"height": finalizedHeight},
	}
	if tip := h.driver.TipBlock(); tip != nil {
		info["confirmed"].(map[string]interface{})["hash"] = tip.Hash()
	}
	if block, ok := h.driver.BlockAt(finalizedHeight); ok {
		info["finalized"].(map[string]interface{})["hash"] = block.Hash()
	}

	writeJSON(w, http.StatusOK, info)
}

// HandleGetBlock handles GET /block/{height}.
func (h *Handlers) HandleGetBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/block/")
	if raw == "" || raw == r.URL.Path {
		writeJSONError(w, "block height required", http.StatusBadRequest)
		return
	}
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeJSONError(w, "invalid block height", http.StatusBadRequest)
		return
	}

	block, ok := h.driver.BlockAt(height)
	if !ok {
		writeJSONError(w, "block not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, block)
}

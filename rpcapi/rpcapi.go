// Package rpcapi is the externally-observable submit surface (spec.md §7):
// HTTP POST endpoints that accept a serialized transaction or stake, push
// it into the pending pool, and answer with the literal string "success" or
// the rejecting error's message, the way the teacher's JSON-RPC layer is
// fronted by httprouter and wrapped in CORS for browser wallets.
package rpcapi

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"driftchain/block"
	"driftchain/chain"
	"driftchain/params"
	"driftchain/ratelimit"
	"driftchain/stake"
	"driftchain/transaction"
)

var log = logrus.WithField("subsystem", "rpcapi")

// TimeDelta is the clock-drift allowance applied to incoming submissions,
// matching the tolerance the validation pipeline grants forged blocks.
const TimeDelta = 30

// Handler wires the blockchain facade and the rate limiter to the HTTP
// submit surface.
type Handler struct {
	Chain   *chain.Blockchain
	Limiter *ratelimit.Limiter
}

// Router builds the httprouter.Handler (wrapped in permissive CORS, as
// wallets submitting from a browser need) for the submit surface.
func (h *Handler) Router() http.Handler {
	r := httprouter.New()
	r.POST("/transaction", h.submitTransaction)
	r.POST("/stake", h.submitStake)
	r.POST("/block", h.submitBlock)
	return cors.AllowAll().Handler(r)
}

func remoteIP(req *http.Request) net.IP {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return net.ParseIP(host)
}

func respond(w http.ResponseWriter, err error) {
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, err.Error())
		return
	}
	_, _ = io.WriteString(w, "success")
}

// readBody reads at most limit bytes of the request body. The transaction
// and stake handlers pass one byte past the exact wire size so an oversized
// payload fails the exact-length deserialize instead of being truncated into
// a valid one; the block handler passes a fixed bound instead, and
// block.Deserialize ignores bytes past the declared transactions and stakes.
func readBody(req *http.Request, limit int64) ([]byte, error) {
	defer req.Body.Close()
	return io.ReadAll(io.LimitReader(req.Body, limit))
}

func (h *Handler) submitTransaction(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	if !h.Limiter.Allow(remoteIP(req), ratelimit.RequestResponse, now()) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	body, err := readBody(req, transaction.Size+1)
	if err != nil {
		respond(w, err)
		return
	}
	tx, err := transaction.Deserialize(body)
	if err != nil {
		respond(w, err)
		return
	}
	err = h.Chain.PendingTransactionsPush(tx, now(), TimeDelta)
	if err != nil {
		log.WithError(err).Debug("rejected submitted transaction")
	}
	respond(w, err)
}

func (h *Handler) submitStake(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	if !h.Limiter.Allow(remoteIP(req), ratelimit.RequestResponse, now()) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	body, err := readBody(req, stake.Size+1)
	if err != nil {
		respond(w, err)
		return
	}
	st, err := stake.Deserialize(body)
	if err != nil {
		respond(w, err)
		return
	}
	err = h.Chain.PendingStakesPush(st, now(), TimeDelta)
	if err != nil {
		log.WithError(err).Debug("rejected submitted stake")
	}
	respond(w, err)
}

func (h *Handler) submitBlock(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	if !h.Limiter.Allow(remoteIP(req), ratelimit.GossipsubBlock, now()) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	body, err := readBody(req, params.BlockSizeLimit+512)
	if err != nil {
		respond(w, err)
		return
	}
	b, err := block.Deserialize(body)
	if err != nil {
		respond(w, err)
		return
	}
	err = h.Chain.PendingBlocksPush(b, now(), TimeDelta)
	if err != nil {
		log.WithError(err).Debug("rejected submitted block")
	}
	respond(w, err)
}

func now() uint32 {
	return uint32(time.Now().Unix())
}

package web

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type addWalletRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type chartResponse struct {
	Wallet   string              `json:"wallet"`
	DataType domain.Metric       `json:"data_type"`
	Interval domain.Interval     `json:"interval"`
	Data     []domain.ChartPoint `json:"data"`
}

func (s *Server) handleListWallets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reader.ListSnapshots())
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reader.Snapshot(mux.Vars(r)["address"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAddWallet(w http.ResponseWriter, r *http.Request) {
	var req addWalletRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	summary, err := s.wallets.AddWallet(r.Context(), req.Name, req.Address)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRemoveWallet(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	name, err := s.wallets.RemoveWallet(r.Context(), address)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "wallet " + name + " removed"})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wallet := q.Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}
	metric, err := domain.ParseMetric(q.Get("data_type"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	interval, err := domain.ParseInterval(q.Get("interval"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	points, err := s.charts.Chart(wallet, metric, interval)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chartResponse{
		Wallet:   wallet,
		DataType: metric,
		Interval: interval,
		Data:     points,
	})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsConflict(err):
		writeError(w, http.StatusConflict, errors.Cause(err).Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.Cause(err).Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courtbook/internal/export"
	"courtbook/internal/service"
)

const (
	dateLayout = "2006-01-02"
	xlsxType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *HTTPServer) handleListCourts(w http.ResponseWriter, r *http.Request) {
	courts, err := s.bookings.ListCourts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courts": courts})
}

func (s *HTTPServer) handleCourtAvailability(w http.ResponseWriter, r *http.Request) {
	courtID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := time.ParseInLocation(dateLayout, dateStr, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	slots, err := s.bookings.GetCourtAvailability(r.Context(), courtID, date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"court_id": courtID,
		"date":     dateStr,
		"slots":    slots,
	})
}

func (s *HTTPServer) handleScheduleExport(w http.ResponseWriter, r *http.Request) {
	from, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("from"), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
		return
	}
	to, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("to"), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
		return
	}

	courts, booked, err := s.bookings.Schedule(r.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCourtSchedule(&buf, courts, booked, from, to, s.loc); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeFile(w, fmt.Sprintf("schedule_%s_to_%s.xlsx", from.Format(dateLayout), to.Format(dateLayout)), buf.Bytes())
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.applyStaff(r, &req)

	b, err := s.bookings.CreateBooking(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleCreateBulk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Bookings []service.CreateBookingRequest `json:"bookings"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	for i := range body.Bookings {
		s.applyStaff(r, &body.Bookings[i])
	}

	created, err := s.bookings.CreateBulkBookings(r.Context(), body.Bookings)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bookings": created})
}

func (s *HTTPServer) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	b, err := s.bookings.CheckInBooking(r.Context(), body.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleGetBookingByCode(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.GetBookingByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		UserID  int64 `json:"user_id"`
		StaffID int64 `json:"staff_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	requester := service.Requester{UserID: body.UserID}
	if staffID := s.staffID(r, body.StaffID); staffID > 0 {
		requester.StaffID = staffID
		requester.IsStaff = true
	}

	res, err := s.bookings.CancelBooking(r.Context(), id, requester)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := s.bookings.CompleteBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handlePayWithWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := s.payments.PayWithWallet(r.Context(), id, body.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleGatewayPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reference string `json:"reference"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	b, err := s.payments.ConfirmGatewayPayment(r.Context(), id, body.Reference)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.bookings.ListUserBookings(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (s *HTTPServer) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	view, err := s.wallets.GetWallet(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var body struct {
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	txn, err := s.wallets.Deposit(r.Context(), userID, body.Amount, body.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (s *HTTPServer) handleStatementExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	wallet, txs, err := s.wallets.Statement(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteWalletStatement(&buf, wallet, txs, s.loc); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeFile(w, fmt.Sprintf("wallet_%d_statement.xlsx", userID), buf.Bytes())
}

func (s *HTTPServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	report, err := s.wallets.Reconcile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req service.CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if staffID := s.staffID(r, 0); staffID > 0 && req.StaffID == nil {
		req.StaffID = &staffID
	}

	res, err := s.groups.CreateBookingGroup(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	g, err := s.groups.GetGroup(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *HTTPServer) handleGroupGatewayPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reference string `json:"reference"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	g, err := s.groups.ConfirmGroupPayment(r.Context(), id, body.Reference)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *HTTPServer) handleCancelGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var opts service.CancelGroupOptions
	if !decodeJSON(w, r, &opts) {
		return
	}

	res, err := s.groups.CancelBookingGroup(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// applyStaff attributes a request made with a staff api key to that staff member.
func (s *HTTPServer) applyStaff(r *http.Request, req *service.CreateBookingRequest) {
	staffID := s.staffID(r, 0)
	if staffID <= 0 {
		return
	}
	if req.StaffID == nil {
		req.StaffID = &staffID
	}
}

// staffID resolves the acting staff member. With auth enabled only the api
// key decides; without auth the caller's claim is trusted.
func (s *HTTPServer) staffID(r *http.Request, claimed int64) int64 {
	if client, ok := clientFromContext(r.Context()); ok {
		return client.StaffID
	}
	if s.cfg.Auth.Enabled {
		return 0
	}
	return claimed
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeFile(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"kaboom-collab-backend/pkg/models"
)

// SupabaseDatabase Supabase数据库实现 (PostgREST)
//
// PostgREST cannot span a transaction across requests, so InsertParticipant
// and ApproveParticipant check capacity and write in two round trips.
// Concurrent joins may transiently exceed capacity.
type SupabaseDatabase struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// restError is returned for responses with status >= 400.
type restError struct {
	Status int
	Body   string
}

func (e *restError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Status, e.Body)
}

// NewSupabaseDatabase 创建Supabase数据库实例
func NewSupabaseDatabase(baseURL, key string) *SupabaseDatabase {
	// 确保URL格式正确
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	return &SupabaseDatabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// makeRequest 发送HTTP请求到Supabase
func (db *SupabaseDatabase) makeRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, db.baseURL+"/rest/v1"+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// 设置请求头
	req.Header.Set("apikey", db.apiKey)
	req.Header.Set("Authorization", "Bearer "+db.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := db.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &restError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// selectRows GETs endpoint and decodes the JSON array into out.
func (db *SupabaseDatabase) selectRows(ctx context.Context, endpoint string, out interface{}) error {
	data, err := db.makeRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// mutateRows sends a PATCH/DELETE and returns how many rows were affected.
func (db *SupabaseDatabase) mutateRows(ctx context.Context, method, endpoint string, body interface{}) (int, error) {
	data, err := db.makeRequest(ctx, method, endpoint, body)
	if err != nil {
		return 0, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return len(rows), nil
}

func eq(v string) string {
	return "eq." + url.QueryEscape(v)
}

// inList builds a PostgREST in.(...) filter with quoted values.
func inList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return url.QueryEscape("in.(" + strings.Join(quoted, ",") + ")")
}

func (db *SupabaseDatabase) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	var rows []models.Room
	data, err := db.makeRequest(ctx, http.MethodPost, "/thinktank", room)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
		*room = rows[0]
	}
	return nil
}

func (db *SupabaseDatabase) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var rows []models.Room
	if err := db.selectRows(ctx, "/thinktank?select=*&id="+eq(roomID), &rows); err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows := []models.Room{}
	if err := db.selectRows(ctx, "/thinktank?select=*&order=created_at.asc", &rows); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rows, nil
}

func (db *SupabaseDatabase) ListRoomsByIDs(ctx context.Context, roomIDs []string) ([]models.Room, error) {
	rows := []models.Room{}
	if len(roomIDs) == 0 {
		return rows, nil
	}
	if err := db.selectRows(ctx, "/thinktank?select=*&order=created_at.asc&id="+inList(roomIDs), &rows); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rows, nil
}

func participantFilter(roomID, userID string) string {
	return "think_tank_id=" + eq(roomID) + "&participant_id=" + eq(userID)
}

func (db *SupabaseDatabase) GetParticipant(ctx context.Context, roomID, userID string) (*models.Participant, error) {
	var rows []models.Participant
	if err := db.selectRows(ctx, "/think_tank_participants?select=*&"+participantFilter(roomID, userID), &rows); err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) ListParticipants(ctx context.Context, roomIDs []string) ([]models.Participant, error) {
	rows := []models.Participant{}
	if len(roomIDs) == 0 {
		return rows, nil
	}
	if err := db.selectRows(ctx, "/think_tank_participants?select=*&think_tank_id="+inList(roomIDs), &rows); err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return rows, nil
}

func (db *SupabaseDatabase) ListParticipantRoomIDs(ctx context.Context, userID string) ([]string, error) {
	var rows []struct {
		ThinkTankID string `json:"think_tank_id"`
	}
	if err := db.selectRows(ctx, "/think_tank_participants?select=think_tank_id&participant_id="+eq(userID), &rows); err != nil {
		return nil, fmt.Errorf("failed to list participant rooms: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ThinkTankID)
	}
	return ids, nil
}

func (db *SupabaseDatabase) CountAccepted(ctx context.Context, roomID string) (int, error) {
	var rows []json.RawMessage
	endpoint := "/think_tank_participants?select=participant_id&think_tank_id=" + eq(roomID) +
		"&status=" + eq(string(models.ParticipantAccepted))
	if err := db.selectRows(ctx, endpoint, &rows); err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return len(rows), nil
}

func (db *SupabaseDatabase) InsertParticipant(ctx context.Context, p *models.Participant, capacity int) error {
	if capacity != NoCapacityLimit {
		n, err := db.CountAccepted(ctx, p.ThinkTankID)
		if err != nil {
			return err
		}
		if n >= capacity {
			return ErrCapacityExceeded
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := db.makeRequest(ctx, http.MethodPost, "/think_tank_participants", p)
	if err != nil {
		var re *restError
		if errors.As(err, &re) && re.Status == http.StatusConflict {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

func (db *SupabaseDatabase) ApproveParticipant(ctx context.Context, roomID, userID string, capacity int) error {
	if capacity != NoCapacityLimit {
		n, err := db.CountAccepted(ctx, roomID)
		if err != nil {
			return err
		}
		if n >= capacity {
			return ErrCapacityExceeded
		}
	}
	endpoint := "/think_tank_participants?" + participantFilter(roomID, userID) + "&status=" + eq(string(models.ParticipantPending))
	n, err := db.mutateRows(ctx, http.MethodPatch, endpoint, map[string]interface{}{"status": models.ParticipantAccepted})
	if err != nil {
		return fmt.Errorf("failed to approve participant: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *SupabaseDatabase) SetParticipantPayment(ctx context.Context, roomID, userID string, payment models.PaymentState) error {
	var value interface{}
	if payment != models.PaymentNone {
		value = payment
	}
	n, err := db.mutateRows(ctx, http.MethodPatch, "/think_tank_participants?"+participantFilter(roomID, userID),
		map[string]interface{}{"payment": value})
	if err != nil {
		return fmt.Errorf("failed to update participant payment: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *SupabaseDatabase) DeleteParticipant(ctx context.Context, roomID, userID string) error {
	n, err := db.mutateRows(ctx, http.MethodDelete, "/think_tank_participants?"+participantFilter(roomID, userID), nil)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *SupabaseDatabase) ListRoomSubscriptions(ctx context.Context, roomID, subscriberID string) ([]models.RoomSubscription, error) {
	rows := []models.RoomSubscription{}
	endpoint := "/room_subscriptions?select=*&room_id=" + eq(roomID) + "&subscriber_id=" + eq(subscriberID) + "&order=created_at.asc"
	if err := db.selectRows(ctx, endpoint, &rows); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return rows, nil
}

func (db *SupabaseDatabase) CreateRoomSubscription(ctx context.Context, sub *models.RoomSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	if _, err := db.makeRequest(ctx, http.MethodPost, "/room_subscriptions", sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (db *SupabaseDatabase) UpdateRoomSubscriptionStatus(ctx context.Context, stripeSubscriptionID string, status models.SubscriptionStatus) (*models.RoomSubscription, error) {
	filter := "/room_subscriptions?stripe_subscription_id=" + eq(stripeSubscriptionID)
	var current []models.RoomSubscription
	if err := db.selectRows(ctx, filter+"&select=*", &current); err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(current) == 0 {
		return nil, ErrNotFound
	}
	if !current[0].Status.CanMoveTo(status) {
		return &current[0], nil
	}

	// the status filter drops the write when another delivery got there first
	data, err := db.makeRequest(ctx, http.MethodPatch, filter+"&status="+eq(string(current[0].Status)),
		map[string]interface{}{"status": status, "updated_at": time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	var rows []models.RoomSubscription
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(rows) == 0 {
		return &current[0], nil
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) DeleteRoomSubscription(ctx context.Context, id string) error {
	if _, err := db.makeRequest(ctx, http.MethodDelete, "/room_subscriptions?id="+eq(id), nil); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (db *SupabaseDatabase) ListIncompleteSubscriptions(ctx context.Context, createdBefore time.Time) ([]models.RoomSubscription, error) {
	rows := []models.RoomSubscription{}
	endpoint := "/room_subscriptions?select=*&status=" + eq(string(models.StatusIncomplete)) +
		"&created_at=lt." + url.QueryEscape(createdBefore.UTC().Format(time.RFC3339))
	if err := db.selectRows(ctx, endpoint, &rows); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return rows, nil
}

func (db *SupabaseDatabase) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var rows []models.Profile
	if err := db.selectRows(ctx, "/profiles?select=*&id="+eq(userID), &rows); err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) SetProfileStripeCustomer(ctx context.Context, userID, customerID string) error {
	n, err := db.mutateRows(ctx, http.MethodPatch, "/profiles?id="+eq(userID),
		map[string]interface{}{"stripe_customer_id": customerID})
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *SupabaseDatabase) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	var rows []models.Invitation
	if err := db.selectRows(ctx, "/invitations?select=*&id="+eq(id), &rows); err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) ListInvitationsForReceiver(ctx context.Context, receiverID string) ([]models.Invitation, error) {
	rows := []models.Invitation{}
	if err := db.selectRows(ctx, "/invitations?select=*&order=created_at.desc&receiver_id="+eq(receiverID), &rows); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return rows, nil
}

func (db *SupabaseDatabase) UpdateInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	n, err := db.mutateRows(ctx, http.MethodPatch, "/invitations?id="+eq(id)+"&status="+eq(string(models.InvitationPending)),
		map[string]interface{}{"status": status})
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.GetInvitation(ctx, id); err != nil {
		return err
	}
	return ErrInvitationClosed
}

func (db *SupabaseDatabase) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if _, err := db.makeRequest(ctx, http.MethodPost, "/notifications", n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// HealthCheck 健康检查
func (db *SupabaseDatabase) HealthCheck(ctx context.Context) error {
	_, err := db.makeRequest(ctx, http.MethodGet, "/thinktank?select=id&limit=1", nil)
	return err
}

// Close 关闭连接
func (db *SupabaseDatabase) Close() error {
	db.httpClient.CloseIdleConnections()
	return nil
}

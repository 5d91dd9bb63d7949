package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"aetheron.ai/aetheron-chat/internal/core"
	"aetheron.ai/aetheron-chat/internal/store"
)

type APIHandler struct {
	chatService *core.ChatService
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{chatService: cs, logger: logger}
}

type userView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func viewOf(u *store.User) userView {
	return userView{ID: u.ID, Username: u.Username}
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type RegisterRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Email    *string `json:"email,omitempty"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.chatService.Register(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{Message: "User registered successfully", UserID: user.ID})
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message string   `json:"message"`
	Token   string   `json:"token"`
	User    userView `json:"user"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	token, user, err := h.chatService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Message: "Login successful", Token: token, User: viewOf(user)})
}

type VerifyTokenResponse struct {
	Valid bool     `json:"valid"`
	User  userView `json:"user"`
}

func (h *APIHandler) VerifyTokenHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.chatService.VerifyUser(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyTokenResponse{Valid: true, User: viewOf(user)})
}

type ChatRequest struct {
	Prompt string `json:"prompt"`
	ChatID *int64 `json:"chat_id,omitempty"`
	// ChatIDCamel is the spelling older image clients send.
	ChatIDCamel *int64 `json:"chatId,omitempty"`
}

// requestedChat prefers chat_id over chatId and treats zero like absent.
func (req ChatRequest) requestedChat() *int64 {
	id := req.ChatID
	if id == nil || *id == 0 {
		id = req.ChatIDCamel
	}
	if id == nil || *id == 0 {
		return nil
	}
	return id
}

type ChatResponse struct {
	Message  string `json:"message"`
	Response string `json:"response"`
	ChatID   int64  `json:"chat_id"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.chatService.SendMessage(r.Context(), userIDFrom(r.Context()), req.Prompt, req.requestedChat())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Message: "Message received", Response: result.Response, ChatID: result.ChatID})
}

type ChatHistoryResponse struct {
	Chats []store.ChatSummary `json:"chats"`
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatService.ChatHistory(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatHistoryResponse{Chats: chats})
}

func (h *APIHandler) LatestChatHandler(w http.ResponseWriter, r *http.Request) {
	chatID, err := h.chatService.LatestChat(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*int64{"chat_id": chatID})
}

func (h *APIHandler) ChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil || chatID <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid chat ID")
		return
	}

	messages, err := h.chatService.ChatMessages(r.Context(), userIDFrom(r.Context()), chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type ClearHistoryResponse struct {
	Message string `json:"message"`
	store.DeleteResult
}

func (h *APIHandler) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.chatService.ClearHistory(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearHistoryResponse{Message: "Chat history deleted successfully", DeleteResult: result})
}

type ImageResponse struct {
	ImageURL string `json:"imageUrl"`
	ChatID   int64  `json:"chat_id"`
	ImageID  int64  `json:"image_id"`
}

func (h *APIHandler) ImageHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.chatService.GenerateImage(r.Context(), userIDFrom(r.Context()), req.Prompt, req.requestedChat())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImageResponse{ImageURL: result.ImageURL, ChatID: result.ChatID, ImageID: result.ImageID})
}

func (h *APIHandler) ImageHistoryHandler(w http.ResponseWriter, r *http.Request) {
	images, err := h.chatService.ImageHistory(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

type ImageDetailResponse struct {
	store.ImageGeneration
	ImageURL         string `json:"imageUrl"`
	GenerationConfig any    `json:"generation_config"`
}

func (h *APIHandler) ImageDetailHandler(w http.ResponseWriter, r *http.Request) {
	imageID, err := strconv.ParseInt(chi.URLParam(r, "imageID"), 10, 64)
	if err != nil || imageID <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid image ID")
		return
	}

	img, err := h.chatService.Image(r.Context(), userIDFrom(r.Context()), imageID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImageDetailResponse{
		ImageGeneration:  *img,
		ImageURL:         core.DataURL(img.ImageData),
		GenerationConfig: rawJSON(img.GenerationConfig),
	})
}

type PreferencesRequest struct {
	Preferences      string `json:"preferences"`
	ExpertiseDomains string `json:"expertise_domains"`
}

type PreferencesResponse struct {
	Message string `json:"message,omitempty"`
	*store.Preferences
}

func (h *APIHandler) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.chatService.Preferences(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PreferencesResponse{Preferences: prefs})
}

func (h *APIHandler) UpdatePreferencesHandler(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	prefs, err := h.chatService.UpdatePreferences(r.Context(), userIDFrom(r.Context()), req.Preferences, req.ExpertiseDomains)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PreferencesResponse{Message: "Preferences updated successfully", Preferences: prefs})
}

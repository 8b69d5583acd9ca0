package handler

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chatroom/internal/call"
	"github.com/chatroom/internal/config"
	"github.com/chatroom/internal/directory"
	"github.com/chatroom/internal/middleware"
	"github.com/chatroom/internal/room"
	"github.com/chatroom/internal/upload"
	"github.com/chatroom/internal/ws"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// sendRateLimit ограничивает отправку сообщений в одну комнату.
const sendRateLimit = 60

type Deps struct {
	Config    *config.Config
	Run       Runner
	Session   *room.Session
	Hub       *ws.Hub
	Uploads   *upload.Registry
	Directory *directory.Directory
	Calls     *call.Manager
}

// NewRouter собирает локальный API для UI.
func NewRouter(d Deps) http.Handler {
	roomH := NewRoomHandler(d.Run, d.Session, d.Config.RequestTimeout)
	uploadH := NewUploadHandler(d.Uploads)
	contactH := NewContactHandler(d.Directory)
	callH := NewCallHandler(d.Calls)
	configH := NewConfigHandler(d.Config, d.Calls)
	wsH := NewWSHandler(d.Hub, d.Config.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket, иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(d.Config.CORSAllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Chatd-Token"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Group(func(r chi.Router) {
		r.Use(middleware.LocalOnly(os.Getenv("CHATD_API_TOKEN")))
		r.Get("/api/config", configH.GetConfig)
		r.Get("/api/config/call", configH.GetCallConfig)
		r.Get("/api/session", roomH.Session)

		r.Get("/api/rooms", roomH.List)
		r.Post("/api/rooms", roomH.Create)
		r.Route("/api/rooms/{id}", func(r chi.Router) {
			r.Get("/", roomH.Get)
			r.Delete("/", roomH.Destroy)
			r.Get("/messages", roomH.Messages)
			r.With(middleware.RateLimit(sendRateLimit, time.Minute, func(req *http.Request) string {
				return chi.URLParam(req, "id")
			})).Post("/messages", roomH.Send)
			r.Post("/seen", roomH.MarkSeen)
			r.Post("/show", roomH.Show)
			r.Post("/hide", roomH.Hide)
			r.Put("/topic", roomH.SetTopic)
			r.Post("/archive", roomH.Archive)
			r.Post("/unarchive", roomH.Unarchive)
			r.Post("/truncate", roomH.Truncate)
			r.Post("/clear-history", roomH.ClearHistory)
			r.Post("/history", roomH.History)
			r.Post("/recover", roomH.Recover)
			r.Post("/leave", roomH.Leave)
			r.Post("/attachments", roomH.AttachNodes)
			r.Post("/contacts", roomH.AttachContacts)
			r.Post("/uploads", roomH.TrackUpload)
			r.Post("/call", roomH.StartCall)
			r.Post("/call/answer", callH.Answer)
			r.Delete("/call", callH.End)
			r.Post("/turn", roomH.RetrieveTurnServers)
		})

		r.Get("/api/uploads", uploadH.List)
		r.Put("/api/nodes", uploadH.PutNode)
		r.Post("/api/nodes/{handle}/attributes", uploadH.AttributeReady)
		r.Post("/api/uploads/{uid}/complete", uploadH.Complete)
		r.Post("/api/uploads/{uid}/error", uploadH.Fail)
		r.Post("/api/uploads/{uid}/abort", uploadH.Abort)
		r.Post("/api/attributes/{faid}/error", uploadH.AttributeError)

		r.Get("/api/contacts", contactH.List)
		r.Put("/api/contacts/{handle}", contactH.Put)
		r.Delete("/api/contacts/{handle}", contactH.Delete)

		r.Get("/ws/events", wsH.ServeWS)
	})
	return r
}

package room

import (
	"context"

	"github.com/chatroom/internal/model"
	"github.com/pion/webrtc/v4"
)

// Transport carries messages to and from the chat server. Implementations
// must be safe for concurrent use: Submit and RetrieveHistoryPage run off the
// event loop.
type Transport interface {
	// Submit sends msg and returns the server-assigned sequencing token.
	Submit(ctx context.Context, roomID string, msg model.Message) (int64, error)
	// RetrieveHistoryPage fetches the next page of older messages.
	RetrieveHistoryPage(ctx context.Context, roomID string) ([]model.Message, error)
	HasMoreHistory(roomID string) bool
	SetRetentionPolicy(ctx context.Context, chatID string, seconds int) error
}

// Authority is the request/response API that confirms room-level changes.
// A non-zero status comes back as *AuthorityError.
type Authority interface {
	SetFlags(ctx context.Context, chatID string, mask, flags model.Flags) error
	Truncate(ctx context.Context, chatID, uptoMessageID string) error
	// GrantAccess lets userHandle read nodeHandle through chatID.
	GrantAccess(ctx context.Context, chatID, nodeHandle, userHandle string) error
	// CopyToChatFolder copies a foreign node into the caller's chat files
	// folder and returns the handle of the copy.
	CopyToChatFolder(ctx context.Context, nodeHandle string) (string, error)
	Leave(ctx context.Context, chatID string) error
}

// Directory is the contact list.
type Directory interface {
	Lookup(handle string) (model.Contact, bool)
	// Subscribe registers fn for changes of handle. ok is false for unknown users.
	Subscribe(handle string, fn func()) (id model.ListenerID, ok bool)
	Unsubscribe(handle string, id model.ListenerID)
	SetLastInteraction(handle string, ts int64)
}

// UploadListener receives upload manager signals. Nil fields are skipped.
type UploadListener struct {
	OnCompletion     func(uid, handle, faid, chat string)
	OnError          func(uid string, err error)
	OnAbort          func(uid string)
	OnAttributeError func(faid string, err error, failed int)
	OnAttributeReady func(handle, fa string)
}

// Uploads is the process-wide pending upload table together with the
// upload manager's signal bus.
type Uploads interface {
	Add(p *model.PendingUpload)
	Get(uid string) (*model.PendingUpload, bool)
	Remove(uid string)
	Len() int
	// Lookup finds the pending upload waiting on a file attribute id or node handle.
	Lookup(id string) (string, bool)
	Subscribe(l UploadListener) model.ListenerID
	Unsubscribe(id model.ListenerID)
}

// Nodes resolves file nodes by handle.
type Nodes interface {
	Node(handle string) (model.Node, bool)
}

// Store persists room records.
type Store interface {
	Put(ctx context.Context, collection, id string, record any) error
	Get(ctx context.Context, collection, id string, dst any) error
	Keys(ctx context.Context, collection string) ([]string, error)
}

type MediaOptions struct {
	Audio bool
	Video bool
}

// CallManager owns media signalling. Rooms only ask it to start calls and
// hand it fresh ICE servers.
type CallManager interface {
	StartCall(ctx context.Context, roomID string, opts MediaOptions) error
	UpdateIceServers(servers []webrtc.ICEServer)
}

// TurnProvider asks the load balancer for TURN relays.
type TurnProvider interface {
	RetrieveTurnServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// View is the UI side the room nudges after state changes.
type View interface {
	Navigate(path string)
	RefreshConversations()
	UpdateDashboard()
	Warn(title, body string)
}

type nopView struct{}

func (nopView) Navigate(string) {}
func (nopView) RefreshConversations() {}
func (nopView) UpdateDashboard() {}
func (nopView) Warn(string, string) {}

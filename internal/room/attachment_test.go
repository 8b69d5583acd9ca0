package room

import (
	"encoding/json"
	"testing"

	"github.com/chatroom/internal/model"
	"github.com/stretchr/testify/require"
)

func attachedNodes(t *testing.T, r *Room) []model.NodeMeta {
	t.Helper()
	var out []model.NodeMeta
	for _, m := range r.Messages() {
		kind, payload, ok := model.ParseManagement(m.TextContents)
		if !ok || kind != model.ManagementAttachment {
			continue
		}
		var metas []model.NodeMeta
		require.NoError(t, json.Unmarshal(payload, &metas))
		out = append(out, metas...)
	}
	return out
}

func readyGroup(t *testing.T, h *harness, id string) *Room {
	r := h.group(t, id, me, "alice", "bob")
	h.ready(t, r, model.PermStandard)
	return r
}

func TestUploadCompletionAttachesOnce(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := readyGroup(t, h, "g1")
	h.uploads.nodes["n1"] = model.Node{Handle: "n1", Owner: me, Name: "a.jpg", FA: "0*abc"}

	r.TrackUpload("u1", 1)
	r.TrackUpload("u2", 0)
	require.True(r.attachments.Listening())
	require.Len(h.uploads.listeners, 1)

	h.uploads.complete("u1", "n1", "", "up/g1")
	h.uploads.complete("u1", "n1", "", "up/g1")
	h.loop.Flush()

	nodes := attachedNodes(t, r)
	require.Len(nodes, 1)
	require.Equal("n1", nodes[0].Handle)
	require.Equal("a.jpg", nodes[0].Name)
	require.Equal([]grant{{"AAAAAAAAAAE", "n1", "alice"}, {"AAAAAAAAAAE", "n1", "bob"}}, h.authority.grants)
	require.True(r.attachments.Listening(), "u2 still pending")
	require.Equal(1, h.uploads.Len())
}

func TestUploadWaitsForFileAttributes(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := readyGroup(t, h, "g1")
	h.uploads.nodes["n1"] = model.Node{Handle: "n1", Owner: me}

	r.TrackUpload("u1", 2)
	h.uploads.complete("u1", "n1", "fa1", "up/g1")
	h.loop.Flush()
	require.Empty(attachedNodes(t, r))
	ul, ok := h.uploads.Get("u1")
	require.True(ok)
	require.Equal("n1", ul.Handle)
	require.Equal("fa1", ul.FAID)

	h.uploads.attrReady("n1", "0*a")
	h.uploads.attrReady("n1", "0*a/1*b")
	h.loop.Flush()
	require.Len(attachedNodes(t, r), 1)
	require.Zero(h.uploads.Len())
	require.False(r.attachments.Listening())
	require.Empty(h.uploads.listeners)
}

func TestAttributeFailureLowersExpectation(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := readyGroup(t, h, "g1")
	h.uploads.nodes["n1"] = model.Node{Handle: "n1", Owner: me, FA: "0*a"}

	r.TrackUpload("u1", 2)
	h.uploads.complete("u1", "n1", "fa1", "up/g1")
	h.loop.Flush()
	require.Empty(attachedNodes(t, r))

	h.uploads.attrError("fa1", 1)
	h.loop.Flush()
	require.Len(attachedNodes(t, r), 1)
}

func TestAttributeFailureNeverGoesNegative(t *testing.T) {
	h := newHarness(t)
	r := readyGroup(t, h, "g1")
	r.TrackUpload("u1", 1)
	ul, _ := h.uploads.Get("u1")
	ul.FAID = "fa1"
	h.uploads.attrError("fa1", 5)
	h.loop.Flush()
	require.Zero(t, ul.EFA)
	require.Empty(t, attachedNodes(t, r), "no handle yet")
}

func TestUploadFailureReleasesListeners(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := readyGroup(t, h, "g1")
	r.TrackUpload("u1", 0)
	h.uploads.fail("u1")
	h.loop.Flush()
	require.Zero(h.uploads.Len())
	require.Empty(h.uploads.listeners)
	require.Empty(attachedNodes(t, r))
}

func TestCompletionWithUnknownNodeEndsUpload(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := readyGroup(t, h, "g1")
	r.TrackUpload("u1", 0)
	h.uploads.complete("u1", "ghost", "", "up/g1")
	h.loop.Flush()
	require.Zero(h.uploads.Len())
	require.Empty(h.uploads.listeners)
	require.False(r.attachments.Listening())
	require.Empty(attachedNodes(t, r))
}

func TestUploadForOtherRoomIsIgnored(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	a := readyGroup(t, h, "g1")
	b := readyGroup(t, h, "g2")
	h.uploads.nodes["n1"] = model.Node{Handle: "n1", Owner: me}
	h.uploads.nodes["n2"] = model.Node{Handle: "n2", Owner: me}

	a.TrackUpload("u1", 0)
	b.TrackUpload("u2", 0)
	require.Len(h.uploads.listeners, 2)

	h.uploads.complete("u1", "n1", "", "up/g1")
	h.loop.Flush()
	require.Len(attachedNodes(t, a), 1)
	require.Empty(attachedNodes(t, b))
	require.Len(h.uploads.listeners, 2)

	h.uploads.complete("u2", "n2", "", "up/g2")
	h.loop.Flush()
	require.Len(attachedNodes(t, b), 1)
	require.Len(attachedNodes(t, a), 1)
	require.Empty(h.uploads.listeners, "released once nothing is pending")
}

func TestAttachForeignNodeCopiesFirst(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := readyGroup(t, h, "g1")
	h.uploads.nodes["n9"] = model.Node{Handle: "n9", Owner: "alice"}

	c := r.AttachNodes([]string{"n9", "missing"})
	h.loop.Flush()
	require.ErrorIs(c.Err(), ErrNodeNotFound)
	require.Equal([]string{"n9"}, h.authority.copies)
	nodes := attachedNodes(t, r)
	require.Len(nodes, 1)
	require.Equal("n9-copy", nodes[0].Handle)
	require.Equal("n9-copy", h.authority.grants[0].node)
}

func TestAttachStopsOnGrantFailure(t *testing.T) {
	h := newHarness(t)
	r := readyGroup(t, h, "g1")
	h.uploads.nodes["n1"] = model.Node{Handle: "n1", Owner: me}
	h.authority.grantErr = &AuthorityError{Op: "mcga", Code: CodeAccess}

	c := r.AttachNodes([]string{"n1"})
	h.loop.Flush()
	require.True(t, IsAuthorityCode(c.Err(), CodeAccess))
	require.Empty(t, attachedNodes(t, r))
}

func TestAttachContacts(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")

	msg, err := r.AttachContacts([]string{"bob", "zed"})
	require.NoError(err)
	kind, payload, ok := model.ParseManagement(msg.TextContents)
	require.True(ok)
	require.Equal(model.ManagementContact, kind)
	var cards []model.ContactMeta
	require.NoError(json.Unmarshal(payload, &cards))
	require.Equal([]model.ContactMeta{
		{Handle: "bob", Email: "bob@example.com"},
		{Handle: "zed"},
	}, cards)
}

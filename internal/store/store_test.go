package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + indexes)", result.Version)
	}
}

func TestContactCRUD(t *testing.T) {
	db := testDB(t)

	if err := db.InsertContact(&Contact{ID: "c1", Nickname: "Ania"}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Nickname != "Ania" {
		t.Fatalf("got %v, want Ania", c)
	}
	if c.DateAdded == 0 {
		t.Error("date_added not set on insert")
	}

	// Duplicate id must fail on the primary key.
	if err := db.InsertContact(&Contact{ID: "c1", Nickname: "Other"}); err == nil {
		t.Error("duplicate InsertContact should fail")
	}

	if err := db.DeleteContact("c1"); err != nil {
		t.Fatal(err)
	}
	c, err = db.GetContact("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("contact still present after delete")
	}
}

func TestListContactsSortedByNickname(t *testing.T) {
	db := testDB(t)

	for _, c := range []Contact{
		{ID: "c1", Nickname: "zoe"},
		{ID: "c2", Nickname: "Ania"},
		{ID: "c3", Nickname: "bart"},
	} {
		if err := db.InsertContact(&c); err != nil {
			t.Fatal(err)
		}
	}

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	got := []string{contacts[0].Nickname, contacts[1].Nickname, contacts[2].Nickname}
	want := []string{"Ania", "bart", "zoe"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSearchContactsCaseInsensitive(t *testing.T) {
	db := testDB(t)

	if err := db.InsertContact(&Contact{ID: "c1", Nickname: "Ania"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertContact(&Contact{ID: "c2", Nickname: "Bart"}); err != nil {
		t.Fatal(err)
	}

	found, err := db.SearchContacts("ani")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "c1" {
		t.Errorf("search ani = %v, want [c1]", found)
	}

	// LIKE metacharacters must match literally.
	found, err = db.SearchContacts("%")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 0 {
		t.Errorf("search %% matched %d contacts, want 0", len(found))
	}
}

func TestDirectChatLookup(t *testing.T) {
	db := testDB(t)

	if err := db.InsertContact(&Contact{ID: "c1", Nickname: "Ania"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, []string{"c1"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetDirectChatByContact("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.ID != "ch1" {
		t.Fatalf("got %v, want ch1", c)
	}

	c, err = db.GetDirectChatByContact("missing")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for contact without direct chat")
	}
}

func TestAppendMessageDedupAndUnread(t *testing.T) {
	db := testDB(t)

	if err := db.InsertContact(&Contact{ID: "c1", Nickname: "Ania"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, []string{"c1"}); err != nil {
		t.Fatal(err)
	}

	msg := &Message{ID: "m1", ChatID: "ch1", SenderID: "c1", Content: "Hello", Kind: KindText, Status: StatusDelivered, Timestamp: 1000}
	inserted, err := db.AppendMessage(msg, true)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first append should insert")
	}

	// Same id again: no new row, no double unread count.
	inserted, err = db.AppendMessage(msg, true)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate append should report inserted=false")
	}

	chat, err := db.GetChat("ch1")
	if err != nil {
		t.Fatal(err)
	}
	if chat.UnreadCount != 1 {
		t.Errorf("unread_count = %d, want 1 (duplicate must not double-count)", chat.UnreadCount)
	}
	if chat.LastMessagePreview != "Hello" {
		t.Errorf("preview = %q, want Hello", chat.LastMessagePreview)
	}
	if chat.LastMessageSender != "c1" {
		t.Errorf("last sender = %q, want c1", chat.LastMessageSender)
	}

	msgs, err := db.ListMessages("ch1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestAppendMessageNoUnreadForOwn(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendMessage(&Message{ID: "m1", ChatID: "ch1", SenderID: "me", Content: "hi", Kind: KindText, Status: StatusSending}, false); err != nil {
		t.Fatal(err)
	}

	chat, err := db.GetChat("ch1")
	if err != nil {
		t.Fatal(err)
	}
	if chat.UnreadCount != 0 {
		t.Errorf("unread_count = %d, want 0", chat.UnreadCount)
	}
}

func TestListMessagesPagination(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		m := &Message{ID: string(rune('a'+i)), ChatID: "ch1", SenderID: "c1", Content: "msg", Kind: KindText, Status: StatusDelivered, Timestamp: int64(i * 1000)}
		if _, err := db.AppendMessage(m, false); err != nil {
			t.Fatal(err)
		}
	}

	// First page holds the two newest messages, oldest-first within the page.
	page, err := db.ListMessages("ch1", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d messages, want 2", len(page))
	}
	if page[0].Timestamp != 4000 || page[1].Timestamp != 5000 {
		t.Errorf("page timestamps = [%d, %d], want [4000, 5000]", page[0].Timestamp, page[1].Timestamp)
	}

	// Next page reaches further back.
	page, err = db.ListMessages("ch1", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if page[0].Timestamp != 2000 || page[1].Timestamp != 3000 {
		t.Errorf("page timestamps = [%d, %d], want [2000, 3000]", page[0].Timestamp, page[1].Timestamp)
	}
}

func TestMarkChatRead(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"m1", "m2"} {
		if _, err := db.AppendMessage(&Message{ID: id, ChatID: "ch1", SenderID: "c1", Content: "x", Kind: KindText, Status: StatusDelivered}, true); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.MarkChatRead("ch1"); err != nil {
		t.Fatal(err)
	}

	chat, err := db.GetChat("ch1")
	if err != nil {
		t.Fatal(err)
	}
	if chat.UnreadCount != 0 {
		t.Errorf("unread_count = %d, want 0", chat.UnreadCount)
	}
	msgs, err := db.ListMessages("ch1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if !m.IsRead {
			t.Errorf("message %s still unread after MarkChatRead", m.ID)
		}
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertChat(&Chat{ID: "ch2", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	seed := []Message{
		{ID: "m1", ChatID: "ch1", SenderID: "c1", Content: "Hello world", Kind: KindText, Status: StatusDelivered, Timestamp: 1000},
		{ID: "m2", ChatID: "ch1", SenderID: "c1", Content: "goodbye", Kind: KindText, Status: StatusDelivered, Timestamp: 2000},
		{ID: "m3", ChatID: "ch2", SenderID: "c2", Content: "hello again", Kind: KindText, Status: StatusDelivered, Timestamp: 3000},
	}
	for i := range seed {
		if _, err := db.AppendMessage(&seed[i], false); err != nil {
			t.Fatal(err)
		}
	}

	// Case-insensitive substring across all chats, newest first.
	got, err := db.SearchMessages("HELLO", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "m3" || got[1].ID != "m1" {
		t.Errorf("search all = %v, want [m3 m1]", ids(got))
	}

	// Scoped to one chat.
	got, err = db.SearchMessages("hello", "ch1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("search ch1 = %v, want [m1]", ids(got))
	}
}

func TestDeleteChatCascades(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	m := &Message{
		ID: "m1", ChatID: "ch1", SenderID: "c1", Content: "", Kind: KindImage, Status: StatusDelivered,
		Attachments: []Attachment{{ID: "a1", Data: []byte{1, 2, 3}, OriginalSize: 3}},
	}
	if _, err := db.AppendMessage(m, false); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendOutgoing(&Message{ID: "m2", ChatID: "ch1", SenderID: "me", Content: "bye", Kind: KindText, Status: StatusSending}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteChat("ch1"); err != nil {
		t.Fatal(err)
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("message count = %d, want 0 after cascade", count)
	}
	attachments, err := db.ListAttachments("m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(attachments) != 0 {
		t.Errorf("attachments = %d, want 0 after cascade", len(attachments))
	}
	depth, err := db.OutboxDepth()
	if err != nil {
		t.Fatal(err)
	}
	if depth != 0 {
		t.Errorf("outbox depth = %d, want 0 after cascade", depth)
	}
}

func TestDeleteContactKeepsChat(t *testing.T) {
	db := testDB(t)

	if err := db.InsertContact(&Contact{ID: "c1", Nickname: "Ania"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, []string{"c1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendMessage(&Message{ID: "m1", ChatID: "ch1", SenderID: "c1", Content: "hi", Kind: KindText, Status: StatusDelivered}, false); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteContact("c1"); err != nil {
		t.Fatal(err)
	}

	// Chat and messages survive; the participant row is gone.
	chat, err := db.GetChat("ch1")
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil {
		t.Fatal("chat deleted with contact, want it kept")
	}
	participants, err := db.ParticipantIDs("ch1")
	if err != nil {
		t.Fatal(err)
	}
	if len(participants) != 0 {
		t.Errorf("participants = %v, want empty", participants)
	}
	count, _ := db.MessageCount()
	if count != 1 {
		t.Errorf("message count = %d, want 1", count)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendOutgoing(&Message{ID: "m1", ChatID: "ch1", SenderID: "me", Content: "hi", Kind: KindText, Status: StatusSending}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].MessageID != "m1" || pending[0].Attempts != 0 {
		t.Fatalf("pending = %+v, want one entry for m1 with 0 attempts", pending)
	}

	if err := db.BumpOutboxAttempt("m1", 5000); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if pending[0].Attempts != 1 || pending[0].LastAttemptAt != 5000 {
		t.Errorf("entry = %+v, want attempts=1 last_attempt_at=5000", pending[0])
	}

	if err := db.RemoveOutbox("m1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("got %d pending after remove, want 0", len(pending))
	}

	// Manual re-enqueue resets the attempt counter.
	if err := db.BumpOutboxAttempt("m1", 1); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueOutbox("m1", "ch1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 1 || pending[0].Attempts != 0 {
		t.Fatalf("re-enqueued entry = %+v, want attempts reset to 0", pending)
	}
}

func TestAppendOutgoingIsAtomic(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendOutgoing(&Message{ID: "m1", ChatID: "ch1", SenderID: "me", Content: "hi", Kind: KindText, Status: StatusSending}); err != nil {
		t.Fatal(err)
	}

	// A second append with the same id must fail and leave exactly one
	// message and one outbox entry.
	if err := db.AppendOutgoing(&Message{ID: "m1", ChatID: "ch1", SenderID: "me", Content: "again", Kind: KindText, Status: StatusSending}); err == nil {
		t.Error("duplicate AppendOutgoing should fail")
	}
	count, _ := db.MessageCount()
	if count != 1 {
		t.Errorf("message count = %d, want 1", count)
	}
	depth, _ := db.OutboxDepth()
	if depth != 1 {
		t.Errorf("outbox depth = %d, want 1", depth)
	}
}

func TestAttachmentsRoundTrip(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "ch1", Kind: ChatDirect}, nil); err != nil {
		t.Fatal(err)
	}
	m := &Message{
		ID: "m1", ChatID: "ch1", SenderID: "c1", Kind: KindImage, Status: StatusDelivered,
		Attachments: []Attachment{
			{ID: "a1", OriginalName: "photo.jpg", OriginalSize: 3, Data: []byte{1, 2, 3}, Width: 640, Height: 480},
			{ID: "a2", OriginalName: "second.jpg", OriginalSize: 1, Data: []byte{9}},
		},
	}
	if _, err := db.AppendMessage(m, false); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListAttachments("m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d attachments, want 2", len(got))
	}
	if got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("order = [%s %s], want [a1 a2]", got[0].ID, got[1].ID)
	}
	if got[0].Width != 640 || got[0].Height != 480 {
		t.Errorf("dims = %dx%d, want 640x480", got[0].Width, got[0].Height)
	}

	if err := db.SetAttachmentProgress("a1", 1.0, true, true); err != nil {
		t.Fatal(err)
	}
	got, _ = db.ListAttachments("m1")
	if got[0].TransferProgress != 1.0 || !got[0].IsUploaded {
		t.Errorf("attachment = %+v, want progress 1.0 uploaded", got[0])
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

package service_test

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"channelkeys/internal/domain"
	"channelkeys/internal/keyscope"
	"channelkeys/internal/keywrap"
	"channelkeys/internal/service"
	"channelkeys/internal/store"
	"channelkeys/internal/store/storetest"
)

func newIdentity(t *testing.T) *keywrap.Identity {
	t.Helper()
	id, err := keywrap.GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

func unwrapChannel(t *testing.T, st *store.Store, who *keywrap.Identity, channelID string, version int) []byte {
	t.Helper()
	row, err := st.ChannelKeys().Get(context.Background(), who.PublicID(), channelID, version)
	if err != nil {
		t.Fatalf("get key v%d for %s: %v", version, channelID, err)
	}
	key, err := keywrap.UnwrapKey(who, row.Ciphertext)
	if err != nil {
		t.Fatalf("unwrap v%d: %v", version, err)
	}
	return key
}

func keyCount(t *testing.T, st *store.Store, who *keywrap.Identity, channelID string) int {
	t.Helper()
	rows, err := st.ChannelKeys().ListForRecipient(context.Background(), who.PublicID(), channelID)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	return len(rows)
}

func TestEncryptRevokeRotateScenario(t *testing.T) {
	st := storetest.Open(t)
	svc := service.New()
	ctx := context.Background()

	a, b := newIdentity(t), newIdentity(t)
	storetest.Roster(t, st, a.PublicID(), b.PublicID())
	storetest.Channel(t, st, "42", true, "")
	storetest.Group(t, st, "G", []string{"42"}, a.PublicID(), b.PublicID())

	issued, err := svc.EnableEncryption(ctx, st, "42", a)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if issued.Version != 1 || len(issued.Recipients) != 2 {
		t.Fatalf("unexpected issue %+v", issued)
	}
	for _, who := range []*keywrap.Identity{a, b} {
		if got := unwrapChannel(t, st, who, "42", 1); !bytes.Equal(got, issued.ContentKey) {
			t.Fatalf("recipient recovered a different key")
		}
	}

	body, err := keywrap.EncryptBody(issued.ContentKey, []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg, err := svc.PostMessage(ctx, st, service.PostInput{ChannelID: "42", Sender: a.PublicID(), Body: body, Encrypted: true, KeyVersion: 1})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !msg.Encrypted || msg.KeyVersion == nil || *msg.KeyVersion != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}

	if err := st.Groups().RemoveMember(ctx, "G", b.PublicID()); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	n, err := svc.OnGroupMemberRemoved(ctx, st, "G", b.PublicID())
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if n != 1 || keyCount(t, st, b, "42") != 0 {
		t.Fatalf("expected b's key revoked, deleted %d", n)
	}
	if keyCount(t, st, a, "42") != 1 {
		t.Fatalf("a's key should remain")
	}

	n, err = svc.OnGroupMemberRemoved(ctx, st, "G", b.PublicID())
	if err != nil || n != 0 {
		t.Fatalf("repeat revoke should be a no-op, got %d %v", n, err)
	}

	rotated, err := svc.RotateKey(ctx, st, "42", a)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.Version != 2 || len(rotated.Recipients) != 1 || rotated.Recipients[0] != a.PublicID() {
		t.Fatalf("unexpected rotation %+v", rotated)
	}
	if keyCount(t, st, a, "42") != 2 {
		t.Fatalf("a should hold both versions")
	}
	if got := unwrapChannel(t, st, a, "42", 1); !bytes.Equal(got, issued.ContentKey) {
		t.Fatalf("old version changed by rotation")
	}
	if keyCount(t, st, b, "42") != 0 {
		t.Fatalf("b must not receive the rotated key")
	}
}

func TestEnableTwiceIssuesNextVersion(t *testing.T) {
	st := storetest.Open(t)
	svc := service.New()
	ctx := context.Background()

	owner := newIdentity(t)
	storetest.Channel(t, st, "dm", false, owner.PublicID())

	if _, err := svc.RotateKey(ctx, st, "dm", owner); !errors.Is(err, service.ErrNotEncrypted) {
		t.Fatalf("expected not encrypted, got %v", err)
	}
	first, err := svc.EnableEncryption(ctx, st, "dm", owner)
	if err != nil || first.Version != 1 {
		t.Fatalf("enable: %+v %v", first, err)
	}
	second, err := svc.EnableEncryption(ctx, st, "dm", owner)
	if err != nil || second.Version != 2 {
		t.Fatalf("second enable: %+v %v", second, err)
	}
	ch, err := st.Channels().Get(ctx, "dm")
	if err != nil || !ch.Encrypted {
		t.Fatalf("channel not encrypted: %+v %v", ch, err)
	}

	if _, err := svc.EnableEncryption(ctx, st, "missing", owner); !errors.Is(err, service.ErrChannelNotFound) {
		t.Fatalf("expected channel not found, got %v", err)
	}
}

func TestConcurrentRotationsClaimDistinctVersions(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()

	owner := newIdentity(t)
	storetest.Channel(t, st, "c", false, owner.PublicID())
	if _, err := service.New().EnableEncryption(ctx, st, "c", owner); err != nil {
		t.Fatalf("enable: %v", err)
	}

	// Two managers so the in-process lock is not the only guard.
	managers := []*service.Service{service.New(), service.New()}
	const workers = 8
	var wg sync.WaitGroup
	versions := make(chan int, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issued, err := managers[i%2].RotateKey(ctx, st, "c", owner)
			if err != nil {
				errs <- err
				return
			}
			versions <- issued.Version
		}(i)
	}
	wg.Wait()
	close(versions)
	close(errs)

	for err := range errs {
		if !errors.Is(err, service.ErrVersionConflict) {
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}
	seen := map[int]bool{}
	for v := range versions {
		if seen[v] {
			t.Fatalf("version %d issued twice", v)
		}
		seen[v] = true
	}
	max, err := st.ChannelKeys().MaxVersion(ctx, "c")
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if max != len(seen)+1 {
		t.Fatalf("expected max version %d, got %d", len(seen)+1, max)
	}
}

type requestFixture struct {
	st      *store.Store
	svc     *service.Service
	holder  *keywrap.Identity
	newbie  *keywrap.Identity
	content []byte
}

func setupRequests(t *testing.T) requestFixture {
	t.Helper()
	st := storetest.Open(t)
	svc := service.New()
	holder, newbie := newIdentity(t), newIdentity(t)

	storetest.Roster(t, st, holder.PublicID(), newbie.PublicID())
	storetest.Channel(t, st, "c", false, "")
	storetest.Group(t, st, "g", []string{"c"}, holder.PublicID())

	issued, err := svc.EnableEncryption(context.Background(), st, "c", holder)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	return requestFixture{st: st, svc: svc, holder: holder, newbie: newbie, content: issued.ContentKey}
}

func (f requestFixture) request(t *testing.T, invite *string) *domain.KeyRequest {
	t.Helper()
	req, err := f.svc.RequestKey(context.Background(), f.st, service.KeyRequestInput{
		ChannelID:       "c",
		Requester:       f.newbie.PublicID(),
		RequesterPubkey: f.newbie.PublicID(),
		Target:          f.holder.PublicID(),
		InviteCodeHash:  invite,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return req
}

func TestKeyRequestFulfill(t *testing.T) {
	f := setupRequests(t)
	ctx := context.Background()

	if err := f.st.Groups().AddMember(ctx, "g", f.newbie.PublicID()); err != nil {
		t.Fatalf("add member: %v", err)
	}
	req := f.request(t, nil)
	again := f.request(t, nil)
	if again.ID != req.ID || again.Status != domain.KeyRequestPending {
		t.Fatalf("request not idempotent: %+v vs %+v", again, req)
	}
	pending, err := f.svc.PendingRequests(ctx, f.st, "c")
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending: %d %v", len(pending), err)
	}

	key := unwrapChannel(t, f.st, f.holder, "c", 0)
	blob, err := keywrap.WrapKey(f.holder, f.newbie.PublicID(), key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), blob); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got := unwrapChannel(t, f.st, f.newbie, "c", 1); !bytes.Equal(got, f.content) {
		t.Fatalf("newbie recovered the wrong key")
	}

	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), blob); !errors.Is(err, service.ErrStaleRequest) {
		t.Fatalf("expected stale on second fulfill, got %v", err)
	}
	if err := f.svc.RejectKeyRequest(ctx, f.st, req.ID); !errors.Is(err, service.ErrStaleRequest) {
		t.Fatalf("expected stale when rejecting fulfilled, got %v", err)
	}
}

func TestKeyRequestReject(t *testing.T) {
	f := setupRequests(t)
	ctx := context.Background()

	req := f.request(t, nil)
	if err := f.svc.RejectKeyRequest(ctx, f.st, req.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := f.svc.RejectKeyRequest(ctx, f.st, req.ID); err != nil {
		t.Fatalf("second reject should succeed, got %v", err)
	}

	blob, err := keywrap.WrapKey(f.holder, f.newbie.PublicID(), f.content)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), blob); !errors.Is(err, service.ErrStaleRequest) {
		t.Fatalf("expected stale, got %v", err)
	}
	if keyCount(t, f.st, f.newbie, "c") != 0 {
		t.Fatalf("rejected request must not leave a key")
	}
}

func TestFulfillChecksParties(t *testing.T) {
	f := setupRequests(t)
	ctx := context.Background()

	req := f.request(t, nil)
	blob, err := keywrap.WrapKey(f.holder, f.newbie.PublicID(), f.content)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), blob); !errors.Is(err, service.ErrNoAccess) {
		t.Fatalf("requester without access was served: %v", err)
	}

	stranger := newIdentity(t)
	strangerBlob, err := keywrap.WrapKey(stranger, f.newbie.PublicID(), f.content)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, stranger.PublicID(), strangerBlob); !errors.Is(err, service.ErrNoAccess) {
		t.Fatalf("non-holder fulfilled: %v", err)
	}
	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), strangerBlob); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("blob from another issuer accepted: %v", err)
	}

	got, err := f.st.KeyRequests().Get(ctx, req.ID)
	if err != nil || got.Status != domain.KeyRequestPending {
		t.Fatalf("failed fulfil must leave request pending: %+v %v", got, err)
	}
}

func TestFulfillViaInviteRedemption(t *testing.T) {
	f := setupRequests(t)
	ctx := context.Background()

	inv := &domain.InviteCode{
		CodeHash:       "hash-1",
		Scope:          keyscope.Channel("c").String(),
		WrappedKey:     []byte("blob"),
		IssuerIdentity: f.holder.PublicID(),
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	if err := f.st.Invites().Create(ctx, inv); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, err := f.st.Invites().RecordRedemption(ctx, inv.ID, f.newbie.PublicID(), time.Now()); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	hash := "hash-1"
	req := f.request(t, &hash)
	blob, err := keywrap.WrapKey(f.holder, f.newbie.PublicID(), f.content)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), blob); err != nil {
		t.Fatalf("fulfill via invite: %v", err)
	}
}

func TestRevokedUserCanRequestAgain(t *testing.T) {
	f := setupRequests(t)
	ctx := context.Background()

	if err := f.st.Groups().AddMember(ctx, "g", f.newbie.PublicID()); err != nil {
		t.Fatalf("add: %v", err)
	}
	req := f.request(t, nil)
	blob, _ := keywrap.WrapKey(f.holder, f.newbie.PublicID(), f.content)
	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), blob); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	if err := f.st.Groups().RemoveMember(ctx, "g", f.newbie.PublicID()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.svc.OnGroupMemberRemoved(ctx, f.st, "g", f.newbie.PublicID()); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	fresh := f.request(t, nil)
	if fresh.ID == req.ID || fresh.Status != domain.KeyRequestPending {
		t.Fatalf("expected a new pending request, got %+v", fresh)
	}
}

func TestGroupUnlinkRevokes(t *testing.T) {
	st := storetest.Open(t)
	svc := service.New()
	ctx := context.Background()

	owner, a, b := newIdentity(t), newIdentity(t), newIdentity(t)
	storetest.Channel(t, st, "c", false, owner.PublicID())
	storetest.Group(t, st, "g1", []string{"c"}, a.PublicID(), b.PublicID())
	storetest.Group(t, st, "g2", []string{"c"}, b.PublicID())

	if _, err := svc.EnableEncryption(ctx, st, "c", owner); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := st.Groups().UnlinkChannel(ctx, "c", "g1"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	n, err := svc.OnGroupUnlinkedFromChannel(ctx, st, "c", "g1")
	if err != nil || n != 1 {
		t.Fatalf("expected one revoked row, got %d %v", n, err)
	}
	if keyCount(t, st, a, "c") != 0 {
		t.Fatalf("a kept access")
	}
	if keyCount(t, st, b, "c") != 1 || keyCount(t, st, owner, "c") != 1 {
		t.Fatalf("b and owner should keep their keys")
	}
}

func TestSharedKeysAndDeparture(t *testing.T) {
	st := storetest.Open(t)
	svc := service.New()
	ctx := context.Background()

	admin, a, late := newIdentity(t), newIdentity(t), newIdentity(t)
	storetest.Roster(t, st, a.PublicID())

	community, err := svc.InitializeCommunityKey(ctx, st, admin)
	if err != nil {
		t.Fatalf("community: %v", err)
	}
	if _, err := svc.InitializeCommunityKey(ctx, st, admin); !errors.Is(err, service.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	team, err := svc.InitializeTeamKey(ctx, st, admin)
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	if _, err := svc.InitializeTeamKey(ctx, st, admin); !errors.Is(err, service.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	escrow, err := st.Escrow().Get(ctx)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	teamID, err := keywrap.IdentityFromPrivate(team.ContentKey)
	if err != nil || teamID.PublicID() != escrow.TeamIdentity {
		t.Fatalf("escrow does not anchor the team key: %v", err)
	}

	shared, err := svc.ShareKey(ctx, st, keyscope.Community(), a, []string{late.PublicID()})
	if err != nil || len(shared) != 0 {
		t.Fatalf("off-roster identity received community key: %v %v", shared, err)
	}
	storetest.Roster(t, st, late.PublicID())
	shared, err = svc.ShareKey(ctx, st, keyscope.Community(), a, []string{late.PublicID()})
	if err != nil || len(shared) != 1 {
		t.Fatalf("share: %v %v", shared, err)
	}
	sec, err := st.Secrets(keyscope.Community()).Get(ctx, late.PublicID(), 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := keywrap.UnwrapKey(late, sec.Ciphertext)
	if err != nil || !bytes.Equal(got, community.ContentKey) {
		t.Fatalf("late member recovered wrong community key: %v", err)
	}

	if _, err := svc.ShareKey(ctx, st, keyscope.Team(), late, []string{a.PublicID()}); !errors.Is(err, service.ErrKeyNotFound) {
		t.Fatalf("expected key not found for non-holder, got %v", err)
	}

	if err := st.Members().Remove(ctx, a.PublicID()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	n, err := svc.OnMemberRemoved(ctx, st, a.PublicID())
	if err != nil || n != 2 {
		t.Fatalf("expected community and team copies revoked, got %d %v", n, err)
	}
	list, err := st.Secrets(keyscope.Team()).List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var holders []string
	for _, s := range list {
		holders = append(holders, s.Recipient)
	}
	sort.Strings(holders)
	if len(holders) != 1 || holders[0] != admin.PublicID() {
		t.Fatalf("unexpected team key holders %v", holders)
	}
}

func TestPostMessageRules(t *testing.T) {
	st := storetest.Open(t)
	svc := service.New()
	ctx := context.Background()

	owner, outsider := newIdentity(t), newIdentity(t)
	storetest.Channel(t, st, "plain", false, owner.PublicID())
	storetest.Channel(t, st, "secret", false, owner.PublicID())
	if _, err := svc.EnableEncryption(ctx, st, "secret", owner); err != nil {
		t.Fatalf("enable: %v", err)
	}

	cases := []struct {
		name string
		in   service.PostInput
		want error
	}{
		{"outsider", service.PostInput{ChannelID: "plain", Sender: outsider.PublicID(), Body: []byte("x")}, service.ErrNoAccess},
		{"plaintext in encrypted", service.PostInput{ChannelID: "secret", Sender: owner.PublicID(), Body: []byte("x")}, service.ErrInvalidRequest},
		{"future version", service.PostInput{ChannelID: "secret", Sender: owner.PublicID(), Body: []byte("x"), Encrypted: true, KeyVersion: 2}, service.ErrInvalidRequest},
		{"version on plain", service.PostInput{ChannelID: "plain", Sender: owner.PublicID(), Body: []byte("x"), KeyVersion: 1}, service.ErrInvalidRequest},
		{"missing channel", service.PostInput{ChannelID: "nope", Sender: owner.PublicID()}, service.ErrChannelNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.PostMessage(ctx, st, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	msg, err := svc.PostMessage(ctx, st, service.PostInput{ChannelID: "plain", Sender: owner.PublicID(), Body: []byte("hi")})
	if err != nil || msg.Encrypted || msg.KeyVersion != nil {
		t.Fatalf("plain post: %+v %v", msg, err)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	svc := service.New()
	owner := newIdentity(t)

	one, two := storetest.Open(t), storetest.Open(t)
	storetest.Channel(t, one, "general", false, owner.PublicID())
	storetest.Channel(t, two, "general", false, owner.PublicID())

	if _, err := svc.EnableEncryption(ctx, one, "general", owner); err != nil {
		t.Fatalf("enable: %v", err)
	}
	ch, err := two.Channels().Get(ctx, "general")
	if err != nil || ch.Encrypted {
		t.Fatalf("encryption leaked across tenants: %+v %v", ch, err)
	}
	if keyCount(t, two, owner, "general") != 0 {
		t.Fatalf("key rows leaked across tenants")
	}
}

func TestVersionNotReusedAfterEveryHolderRevoked(t *testing.T) {
	st := storetest.Open(t)
	svc := service.New()
	ctx := context.Background()

	a, c := newIdentity(t), newIdentity(t)
	storetest.Roster(t, st, a.PublicID(), c.PublicID())
	storetest.Channel(t, st, "42", true, "")
	storetest.Group(t, st, "G", []string{"42"}, a.PublicID())

	first, err := svc.EnableEncryption(ctx, st, "42", a)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	body, err := keywrap.EncryptBody(first.ContentKey, []byte("before"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg, err := svc.PostMessage(ctx, st, service.PostInput{ChannelID: "42", Sender: a.PublicID(), Body: body, Encrypted: true, KeyVersion: 1})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if err := st.Groups().RemoveMember(ctx, "G", a.PublicID()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n, err := svc.OnGroupMemberRemoved(ctx, st, "G", a.PublicID()); err != nil || n != 1 {
		t.Fatalf("revoke: %d %v", n, err)
	}
	if err := st.Groups().AddMember(ctx, "G", c.PublicID()); err != nil {
		t.Fatalf("add: %v", err)
	}

	rotated, err := svc.RotateKey(ctx, st, "42", c)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.Version != 2 {
		t.Fatalf("expected version 2 after revoking every v1 holder, got %d", rotated.Version)
	}
	if got := unwrapChannel(t, st, c, "42", 2); !bytes.Equal(got, rotated.ContentKey) {
		t.Fatalf("c holds the wrong v2 key")
	}
	if _, err := st.ChannelKeys().Get(ctx, c.PublicID(), "42", 1); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("v1 was reissued: %v", err)
	}

	stored, err := st.Messages().Get(ctx, msg.ID)
	if err != nil || stored.KeyVersion == nil || *stored.KeyVersion != 1 {
		t.Fatalf("unexpected stored message %+v (%v)", stored, err)
	}
	if _, err := keywrap.DecryptBody(first.ContentKey, stored.Body); err != nil {
		t.Fatalf("old message no longer opens under v1: %v", err)
	}
	if _, err := svc.PostMessage(ctx, st, service.PostInput{ChannelID: "42", Sender: c.PublicID(), Body: []byte("ct"), Encrypted: true, KeyVersion: 3}); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected version 3 to be rejected, got %v", err)
	}
}

func TestFulfilledRequestReopensOnRepeat(t *testing.T) {
	f := setupRequests(t)
	ctx := context.Background()

	if err := f.st.Groups().AddMember(ctx, "g", f.newbie.PublicID()); err != nil {
		t.Fatalf("add member: %v", err)
	}
	req := f.request(t, nil)

	wrongRecipient := newIdentity(t)
	bad, err := keywrap.WrapKey(f.holder, wrongRecipient.PublicID(), f.content)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), bad); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	row, err := f.st.ChannelKeys().Get(ctx, f.newbie.PublicID(), "c", 1)
	if err != nil {
		t.Fatalf("get stored copy: %v", err)
	}
	if _, err := keywrap.UnwrapKey(f.newbie, row.Ciphertext); err == nil {
		t.Fatalf("copy wrapped for someone else opened")
	}

	again := f.request(t, nil)
	if again.ID != req.ID || again.Status != domain.KeyRequestPending || again.FulfilledBy != nil {
		t.Fatalf("expected the request reopened, got %+v", again)
	}
	if keyCount(t, f.st, f.newbie, "c") != 0 {
		t.Fatalf("unusable copy left in place")
	}

	good, err := keywrap.WrapKey(f.holder, f.newbie.PublicID(), f.content)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.svc.FulfillKeyRequest(ctx, f.st, req.ID, f.holder.PublicID(), good); err != nil {
		t.Fatalf("second fulfill: %v", err)
	}
	if got := unwrapChannel(t, f.st, f.newbie, "c", 1); !bytes.Equal(got, f.content) {
		t.Fatalf("newbie recovered the wrong key")
	}
}

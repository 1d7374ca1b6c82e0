package workflows

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/configs"
	"github.com/PolarWolf314/whanau/internal/directory"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/fingerprint"
	"github.com/PolarWolf314/whanau/internal/session"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// testbed is a set of devices sharing one directory and one clock.
type testbed struct {
	t     *testing.T
	clock *clock
	dir   *directory.FileDirectory
}

func newTestbed(t *testing.T) *testbed {
	t.Helper()
	c := &clock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	d, err := directory.NewFileDirectory(filepath.Join(t.TempDir(), ".whanau"))
	if err != nil {
		t.Fatalf("NewFileDirectory failed: %v", err)
	}
	return &testbed{t: t, clock: c, dir: d.WithClock(c.now)}
}

func environment(host string) fingerprint.StaticEnvironment {
	return fingerprint.StaticEnvironment{"whanau/test (linux; amd64)", "en_NZ.UTF-8", "linux/amd64", "0x0", host}
}

func settingsIn(base string) *configs.UserSettings {
	return &configs.UserSettings{
		ConfigDir: filepath.Join(base, "config"),
		DataDir:   filepath.Join(base, "data"),
		Username:  "test",
	}
}

func openRuntime(t *testing.T, opts RuntimeOptions) *Runtime {
	t.Helper()
	rt, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// device opens a runtime for a new device on the shared directory.
func (tb *testbed) device(host string) *Runtime {
	tb.t.Helper()
	return openRuntime(tb.t, RuntimeOptions{
		Settings:    settingsIn(tb.t.TempDir()),
		Environment: environment(host),
		Sessions:    &session.Memory{},
		Directory:   tb.dir,
		Now:         tb.clock.now,
	})
}

// registered opens a device and registers email on it.
func (tb *testbed) registered(host, email string) *Runtime {
	tb.t.Helper()
	rt := tb.device(host)
	if _, err := rt.Register(context.Background(), RegisterOptions{Email: email, Device: host}); err != nil {
		tb.t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return rt
}

func login(t *testing.T, rt *Runtime) {
	t.Helper()
	if _, err := rt.Login(context.Background(), LoginOptions{Token: "token-" + rt.ConfigPath}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
}

func createFamily(t *testing.T, rt *Runtime, name string) *CreateFamilyResult {
	t.Helper()
	family, err := rt.CreateFamily(context.Background(), CreateFamilyOptions{Name: name})
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	return family
}

func exportKey(t *testing.T, rt *Runtime, family string) string {
	t.Helper()
	out, err := rt.ExportFamilyKey(context.Background(), ExportFamilyKeyOptions{Family: family})
	if err != nil {
		t.Fatalf("ExportFamilyKey failed: %v", err)
	}
	return out.Key
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateNoFamily, StateFamilyCreated, true},
		{StateFamilyCreated, StateInviteIssued, true},
		{StateInviteIssued, StateInviteIssued, true},
		{StateInviteIssued, StateInviteAccepted, true},
		{StateInviteAccepted, StateMember, true},
		{StateNoFamily, StateInviteAccepted, true},
		{StateNoFamily, StateMember, false},
		{StateFamilyCreated, StateMember, false},
		{StateMember, StateInviteIssued, false},
		{StateMember, StateInviteAccepted, false},
	}
	for _, tc := range tests {
		got, err := Advance(tc.from, tc.to)
		if tc.ok {
			if err != nil || got != tc.to {
				t.Errorf("Advance(%s, %s) = %s, %v; expected %s", tc.from, tc.to, got, err, tc.to)
			}
			continue
		}
		if !errors.Is(err, kerrors.ErrInvalidTransition) {
			t.Errorf("Advance(%s, %s): expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
		if got != tc.from {
			t.Errorf("Advance(%s, %s): expected to stay in %s, got %s", tc.from, tc.to, tc.from, got)
		}
	}
}

func TestTargetedInviteEndToEnd(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	invitee := tb.registered("phone", "Tama@Example.com")

	family := createFamily(t, admin, "Ngata")
	if family.State != StateFamilyCreated {
		t.Errorf("Expected state %s, got %s", StateFamilyCreated, family.State)
	}

	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	if issued.PackagedCode != "" {
		t.Errorf("Expected no packaged code for a targeted invite, got %q", issued.PackagedCode)
	}
	if !issued.Published || issued.State != StateInviteIssued || issued.Method != MethodTargeted {
		t.Errorf("Unexpected issue result: %+v", issued)
	}

	familyKey := exportKey(t, admin, family.FamilyID)
	bundle, err := tb.dir.FetchInvite(ctx, issued.InviteCode)
	if err != nil {
		t.Fatalf("FetchInvite failed: %v", err)
	}
	if bundle.Invite.EncryptedFamilyKey == "" || strings.Contains(bundle.Invite.EncryptedFamilyKey, familyKey) {
		t.Errorf("Expected the directory to hold only ciphertext, got %q", bundle.Invite.EncryptedFamilyKey)
	}

	login(t, invitee)
	accepted, err := invitee.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: " " + issued.InviteCode + "\n"})
	if err != nil {
		t.Fatalf("AcceptInvite failed: %v", err)
	}
	if accepted.FamilyID != family.FamilyID || accepted.FamilyName != "Ngata" || accepted.State != StateMember {
		t.Errorf("Unexpected accept result: %+v", accepted)
	}

	if got := exportKey(t, invitee, "Ngata"); got != familyKey {
		t.Errorf("Expected invitee to hold the admin's family key")
	}

	bundle, err = tb.dir.FetchInvite(ctx, issued.InviteCode)
	if err != nil {
		t.Fatalf("FetchInvite failed: %v", err)
	}
	if bundle.Invite.Status != directory.StatusAccepted {
		t.Errorf("Expected invite to be accepted, got %s", bundle.Invite.Status)
	}

	// Messages flow between the two devices.
	sealed, err := admin.EncryptMessages(ctx, MessagesOptions{Family: "Ngata", Messages: []string{"kia ora", "", "ka kite"}})
	if err != nil {
		t.Fatalf("EncryptMessages failed: %v", err)
	}
	opened, err := invitee.DecryptMessages(ctx, MessagesOptions{Family: family.FamilyID, Messages: sealed.Messages})
	if err != nil {
		t.Fatalf("DecryptMessages failed: %v", err)
	}
	want := []string{"kia ora", "", "ka kite"}
	for i := range want {
		if opened.Messages[i] != want[i] {
			t.Errorf("Message %d: expected %q, got %q", i, want[i], opened.Messages[i])
		}
	}

	if _, err := invitee.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: issued.InviteCode}); !errors.Is(err, kerrors.ErrInviteNotPending) {
		t.Errorf("Expected ErrInviteNotPending on reuse, got %v", err)
	}
}

func TestPackagedInviteEndToEnd(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	invitee := tb.device("phone")

	family := createFamily(t, admin, "Ngata")
	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: family.FamilyID, Method: PackagedCode{}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}

	familyKey := exportKey(t, admin, family.FamilyID)
	if issued.PackagedCode != issued.InviteCode+":"+familyKey {
		t.Errorf("Expected CODE:KEY, got %q", issued.PackagedCode)
	}

	bundle, err := tb.dir.FetchInvite(ctx, issued.InviteCode)
	if err != nil {
		t.Fatalf("FetchInvite failed: %v", err)
	}
	if !bundle.Invite.Packaged() {
		t.Errorf("Expected the directory to hold only the bare code, got %+v", bundle.Invite)
	}

	joined, err := invitee.JoinWithCode(ctx, JoinWithCodeOptions{Packaged: issued.PackagedCode + "\n"})
	if err != nil {
		t.Fatalf("JoinWithCode failed: %v", err)
	}
	if joined.FamilyID != family.FamilyID || joined.Method != MethodPackaged {
		t.Errorf("Unexpected join result: %+v", joined)
	}
	if got := exportKey(t, invitee, "Ngata"); got != familyKey {
		t.Error("Expected invitee to hold the admin's family key")
	}

	late := tb.device("tablet")
	if _, err := late.JoinWithCode(ctx, JoinWithCodeOptions{Packaged: issued.PackagedCode}); !errors.Is(err, kerrors.ErrInviteNotPending) {
		t.Errorf("Expected ErrInviteNotPending for a used code, got %v", err)
	}
}

func TestJoinWithCode_Malformed(t *testing.T) {
	tb := newTestbed(t)
	rt := tb.device("phone")

	tests := []struct {
		name     string
		packaged string
		want     error
	}{
		{"no separator", "FAMILY-ABCDEFGHJKLMNPQR", kerrors.ErrInvalidInviteFormat},
		{"extra separator", "FAMILY-ABCDEFGHJKLMNPQR:a:b", kerrors.ErrInvalidInviteFormat},
		{"bad key", "FAMILY-ABCDEFGHJKLMNPQR:bm90LWEta2V5", kerrors.ErrInvalidKeyMaterial},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := rt.JoinWithCode(context.Background(), JoinWithCodeOptions{Packaged: tc.packaged}); !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAcceptInvite_RequiresSession(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	invitee := tb.registered("phone", "tama@example.com")
	createFamily(t, admin, "Ngata")

	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}

	if _, err := invitee.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: issued.InviteCode}); !errors.Is(err, kerrors.ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}
}

func TestAcceptInvite_Expired(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	invitee := tb.registered("phone", "tama@example.com")
	family := createFamily(t, admin, "Ngata")

	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}, TTL: time.Hour})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	if !issued.ExpiresAt.Equal(tb.clock.t.Add(time.Hour)) {
		t.Errorf("Expected expiry one hour out, got %s", issued.ExpiresAt)
	}

	tb.clock.t = tb.clock.t.Add(2 * time.Hour)
	login(t, invitee)
	if _, err := invitee.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: issued.InviteCode}); !errors.Is(err, kerrors.ErrInviteExpired) {
		t.Errorf("Expected ErrInviteExpired, got %v", err)
	}

	ids, err := invitee.FamilyKeys.FamilyIDs()
	if err != nil {
		t.Fatalf("FamilyIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no family key after a refused invite, got %v", ids)
	}

	pending, err := admin.ListInvites(ctx, ListInvitesOptions{Family: family.FamilyID, PendingOnly: true})
	if err != nil {
		t.Fatalf("ListInvites failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending invites, got %d", len(pending))
	}
}

func TestAcceptInvite_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	createFamily(t, admin, "Ngata")

	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	if !issued.ExpiresAt.Equal(tb.clock.t.Add(DefaultInviteTTL)) {
		t.Errorf("Expected expiry %s, got %s", tb.clock.t.Add(DefaultInviteTTL), issued.ExpiresAt)
	}
}

func TestAcceptInvite_Mismatch(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	tb.registered("phone", "tama@example.com")
	stranger := tb.registered("tablet", "mere@example.com")
	createFamily(t, admin, "Ngata")

	targeted, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	packaged, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}

	login(t, stranger)
	if _, err := stranger.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: targeted.InviteCode}); !errors.Is(err, kerrors.ErrInviteMismatch) {
		t.Errorf("Expected ErrInviteMismatch for another user's invite, got %v", err)
	}
	if _, err := stranger.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: packaged.InviteCode}); !errors.Is(err, kerrors.ErrInviteMismatch) {
		t.Errorf("Expected ErrInviteMismatch for a packaged code, got %v", err)
	}

	// A targeted code with the key glued on is still a targeted invite.
	glued := targeted.InviteCode + ":" + exportKey(t, admin, "Ngata")
	if _, err := stranger.JoinWithCode(ctx, JoinWithCodeOptions{Packaged: glued}); !errors.Is(err, kerrors.ErrInviteMismatch) {
		t.Errorf("Expected ErrInviteMismatch joining a targeted invite, got %v", err)
	}
}

func TestAcceptInvite_UnknownCode(t *testing.T) {
	tb := newTestbed(t)
	rt := tb.registered("phone", "tama@example.com")
	login(t, rt)

	if _, err := rt.AcceptInvite(context.Background(), AcceptInviteOptions{InviteCode: "FAMILY-ABCDEFGHJKLMNPQR"}); !errors.Is(err, kerrors.ErrInviteNotFound) {
		t.Errorf("Expected ErrInviteNotFound, got %v", err)
	}
	if _, err := rt.AcceptInvite(context.Background(), AcceptInviteOptions{InviteCode: "family-abc"}); !errors.Is(err, kerrors.ErrInvalidInviteFormat) {
		t.Errorf("Expected ErrInvalidInviteFormat, got %v", err)
	}
}

func TestIssueInvite_Refusals(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	createFamily(t, admin, "Ngata")

	if _, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "nobody@example.com"}}); !errors.Is(err, kerrors.ErrRecipientNotRegistered) {
		t.Errorf("Expected ErrRecipientNotRegistered, got %v", err)
	}
	if _, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "not-an-email"}}); !errors.Is(err, kerrors.ErrInvalidEmail) {
		t.Errorf("Expected ErrInvalidEmail, got %v", err)
	}
	if _, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Smith", Method: PackagedCode{}}); !errors.Is(err, kerrors.ErrFamilyNotFound) {
		t.Errorf("Expected ErrFamilyNotFound, got %v", err)
	}

	// Members cannot invite.
	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	member := tb.registered("phone", "tama@example.com")
	if _, err := member.JoinWithCode(ctx, JoinWithCodeOptions{Packaged: issued.PackagedCode}); err != nil {
		t.Fatalf("JoinWithCode failed: %v", err)
	}
	if _, err := member.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}}); !errors.Is(err, kerrors.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for a member, got %v", err)
	}

	// Joining twice is refused too.
	again, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	if _, err := member.JoinWithCode(ctx, JoinWithCodeOptions{Packaged: again.PackagedCode}); !errors.Is(err, kerrors.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition joining twice, got %v", err)
	}
}

func TestIssueInvite_UnregisteredInviter(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.device("laptop")
	tb.registered("phone", "tama@example.com")
	createFamily(t, admin, "Ngata")

	if _, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}}); !errors.Is(err, kerrors.ErrSenderKeyNotFound) {
		t.Errorf("Expected ErrSenderKeyNotFound for a targeted invite, got %v", err)
	}
	if _, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}}); !errors.Is(err, kerrors.ErrSenderKeyNotFound) {
		t.Errorf("Expected ErrSenderKeyNotFound for a tracked packaged code, got %v", err)
	}
}

// failingDirectory refuses to change invite status or publish keys.
type failingDirectory struct {
	directory.Directory
}

func (failingDirectory) UpdateInviteStatus(context.Context, string, directory.Status) error {
	return errors.New("directory unavailable")
}

func (failingDirectory) PublishPublicKey(context.Context, directory.UserKey) error {
	return errors.New("directory unavailable")
}

func TestAcceptInvite_RollsBackWhenStatusUpdateFails(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	invitee := tb.registered("phone", "tama@example.com")
	createFamily(t, admin, "Ngata")

	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}

	invitee.directory = failingDirectory{Directory: tb.dir}
	login(t, invitee)
	if _, err := invitee.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: issued.InviteCode}); err == nil {
		t.Fatal("Expected AcceptInvite to fail")
	}

	ids, err := invitee.FamilyKeys.FamilyIDs()
	if err != nil {
		t.Fatalf("FamilyIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected the family key to be rolled back, got %v", ids)
	}
	families, err := invitee.ListFamilies(ctx)
	if err != nil {
		t.Fatalf("ListFamilies failed: %v", err)
	}
	if len(families) != 0 {
		t.Errorf("Expected no membership, got %+v", families)
	}

	// The invite is still usable once the directory recovers.
	invitee.directory = tb.dir
	if _, err := invitee.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: issued.InviteCode}); err != nil {
		t.Fatalf("AcceptInvite retry failed: %v", err)
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.device("laptop")

	if _, err := rt.Register(ctx, RegisterOptions{Email: "not-an-email"}); !errors.Is(err, kerrors.ErrInvalidEmail) {
		t.Errorf("Expected ErrInvalidEmail, got %v", err)
	}

	first, err := rt.Register(ctx, RegisterOptions{Email: "Aroha@Example.com", Device: "My Laptop"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if first.Email != "aroha@example.com" || first.Device != "my-laptop" || !first.Published {
		t.Errorf("Unexpected register result: %+v", first)
	}

	info, err := rt.KeyInfo(ctx)
	if err != nil {
		t.Fatalf("KeyInfo failed: %v", err)
	}
	if !info.Registered || info.PublicKey != first.PublicKey || info.Fingerprint != first.Fingerprint {
		t.Errorf("Expected KeyInfo to recover the registered public key, got %+v", info)
	}

	if _, err := rt.Register(ctx, RegisterOptions{}); !errors.Is(err, kerrors.ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}

	tb.clock.t = tb.clock.t.Add(time.Minute)
	second, err := rt.Register(ctx, RegisterOptions{Force: true})
	if err != nil {
		t.Fatalf("Register with Force failed: %v", err)
	}
	if !second.Replaced || second.PublicKey == first.PublicKey {
		t.Errorf("Expected a replaced keypair, got %+v", second)
	}
	if second.Email != "aroha@example.com" || second.Device != "my-laptop" {
		t.Errorf("Expected email and device to carry over, got %+v", second)
	}

	published, err := tb.dir.LookupPublicKey(ctx, "aroha@example.com")
	if err != nil {
		t.Fatalf("LookupPublicKey failed: %v", err)
	}
	if published.PublicKey != second.PublicKey {
		t.Error("Expected the directory to serve the new public key")
	}
}

func TestRegister_RollsBackWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.device("laptop")
	rt.directory = failingDirectory{Directory: tb.dir}

	if _, err := rt.Register(ctx, RegisterOptions{Email: "aroha@example.com"}); err == nil {
		t.Fatal("Expected Register to fail")
	}
	info, err := rt.KeyInfo(ctx)
	if err != nil {
		t.Fatalf("KeyInfo failed: %v", err)
	}
	if info.Registered {
		t.Error("Expected no private key after a failed registration")
	}
}

func TestLogout_ClearsSessionAndFamilyKeys(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.registered("laptop", "aroha@example.com")
	createFamily(t, rt, "Ngata")
	createFamily(t, rt, "Smith")
	login(t, rt)

	out, err := rt.Logout(ctx)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if out.FamilyKeysCleared != 2 {
		t.Errorf("Expected 2 family keys cleared, got %d", out.FamilyKeysCleared)
	}

	if _, err := rt.ExportFamilyKey(ctx, ExportFamilyKeyOptions{Family: "Ngata"}); !errors.Is(err, kerrors.ErrFamilyKeyNotFound) {
		t.Errorf("Expected ErrFamilyKeyNotFound, got %v", err)
	}
	if _, err := rt.DecryptMessages(ctx, MessagesOptions{Family: "Ngata"}); !errors.Is(err, kerrors.ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}

	families, err := rt.ListFamilies(ctx)
	if err != nil {
		t.Fatalf("ListFamilies failed: %v", err)
	}
	if len(families) != 2 || families[0].HasKey || families[1].HasKey {
		t.Errorf("Expected memberships kept without keys, got %+v", families)
	}
}

func TestLogin_EmptyToken(t *testing.T) {
	tb := newTestbed(t)
	rt := tb.device("laptop")
	if _, err := rt.Login(context.Background(), LoginOptions{Token: "  "}); !errors.Is(err, kerrors.ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}
}

func TestMessages_FamilyIsolation(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.registered("laptop", "aroha@example.com")
	createFamily(t, rt, "Ngata")
	createFamily(t, rt, "Smith")
	login(t, rt)

	sealed, err := rt.EncryptMessages(ctx, MessagesOptions{Family: "Ngata", Messages: []string{"kia ora"}})
	if err != nil {
		t.Fatalf("EncryptMessages failed: %v", err)
	}
	if _, err := rt.DecryptMessages(ctx, MessagesOptions{Family: "Smith", Messages: sealed.Messages}); !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed under another family's key, got %v", err)
	}

	empty, err := rt.EncryptMessages(ctx, MessagesOptions{Family: "Ngata"})
	if err != nil {
		t.Fatalf("EncryptMessages failed: %v", err)
	}
	if empty.Messages == nil || len(empty.Messages) != 0 {
		t.Errorf("Expected an empty batch, got %v", empty.Messages)
	}
}

func TestCreateFamily(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.device("laptop")

	if _, err := rt.CreateFamily(ctx, CreateFamilyOptions{Name: "  "}); !errors.Is(err, kerrors.ErrInvalidFamilyID) {
		t.Errorf("Expected ErrInvalidFamilyID, got %v", err)
	}

	family := createFamily(t, rt, "Ngata")
	if _, err := rt.CreateFamily(ctx, CreateFamilyOptions{Name: "Ngata"}); !errors.Is(err, kerrors.ErrFamilyExists) {
		t.Errorf("Expected ErrFamilyExists, got %v", err)
	}

	families, err := rt.ListFamilies(ctx)
	if err != nil {
		t.Fatalf("ListFamilies failed: %v", err)
	}
	if len(families) != 1 {
		t.Fatalf("Expected 1 family, got %d", len(families))
	}
	f := families[0]
	if f.FamilyID != family.FamilyID || f.Role != configs.RoleAdmin || !f.HasKey || f.State != StateFamilyCreated {
		t.Errorf("Unexpected family: %+v", f)
	}
	if len(exportKey(t, rt, "Ngata")) != 44 {
		t.Error("Expected a 44 character family key")
	}
}

func TestClearAndImportFamily(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.device("laptop")
	createFamily(t, rt, "Ngata")
	smith := createFamily(t, rt, "Smith")

	key := exportKey(t, rt, "Smith")
	if _, err := rt.FamilyKeys.InitializeFamilyKey(key, smith.FamilyID); err != nil {
		t.Fatalf("InitializeFamilyKey failed: %v", err)
	}
	if err := rt.FamilyKeys.ClearFamilyKey(smith.FamilyID); err != nil {
		t.Fatalf("ClearFamilyKey failed: %v", err)
	}
	restored, err := rt.ImportFamilyKey(ctx, ImportFamilyKeyOptions{Family: "Smith", Key: key + "\n"})
	if err != nil {
		t.Fatalf("ImportFamilyKey failed: %v", err)
	}
	if !restored.HasKey || exportKey(t, rt, "Smith") != key {
		t.Error("Expected the imported key to be stored")
	}
	if _, err := rt.ImportFamilyKey(ctx, ImportFamilyKeyOptions{Family: "Smith", Key: "short"}); !errors.Is(err, kerrors.ErrInvalidKeyMaterial) {
		t.Errorf("Expected ErrInvalidKeyMaterial, got %v", err)
	}

	cleared, err := rt.ClearFamily(ctx, ClearFamilyOptions{Family: "Ngata"})
	if err != nil {
		t.Fatalf("ClearFamily failed: %v", err)
	}
	if len(cleared.Cleared) != 1 || cleared.Cleared[0] != "Ngata" {
		t.Errorf("Expected Ngata cleared, got %v", cleared.Cleared)
	}
	if _, err := rt.ExportFamilyKey(ctx, ExportFamilyKeyOptions{Family: "Ngata"}); !errors.Is(err, kerrors.ErrFamilyNotFound) {
		t.Errorf("Expected ErrFamilyNotFound, got %v", err)
	}
	if exportKey(t, rt, "Smith") != key {
		t.Error("Expected Smith's key to survive")
	}

	if _, err := rt.ClearFamily(ctx, ClearFamilyOptions{All: true}); err != nil {
		t.Fatalf("ClearFamily all failed: %v", err)
	}
	ids, err := rt.FamilyKeys.FamilyIDs()
	if err != nil {
		t.Fatalf("FamilyIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no family keys, got %v", ids)
	}
}

func TestImportFamilyKey_Words(t *testing.T) {
	ctx := context.Background()
	rt := newTestbed(t).device("laptop")
	smith := createFamily(t, rt, "Smith")

	out, err := rt.ExportFamilyKey(ctx, ExportFamilyKeyOptions{Family: "Smith", Words: true})
	if err != nil {
		t.Fatalf("ExportFamilyKey failed: %v", err)
	}
	if n := len(strings.Fields(out.Words)); n != 24 {
		t.Fatalf("Expected a 24 word phrase, got %d words", n)
	}

	if err := rt.FamilyKeys.ClearFamilyKey(smith.FamilyID); err != nil {
		t.Fatalf("ClearFamilyKey failed: %v", err)
	}
	if _, err := rt.ImportFamilyKey(ctx, ImportFamilyKeyOptions{Family: "Smith", Key: out.Words}); err != nil {
		t.Fatalf("ImportFamilyKey failed: %v", err)
	}
	if exportKey(t, rt, "Smith") != out.Key {
		t.Error("Expected the phrase to restore the same key")
	}

	words := strings.Fields(out.Words)
	if _, err := rt.ImportFamilyKey(ctx, ImportFamilyKeyOptions{Family: "Smith", Key: strings.Join(words[:23], " ")}); !errors.Is(err, kerrors.ErrInvalidKeyMaterial) {
		t.Errorf("Expected ErrInvalidKeyMaterial for a short phrase, got %v", err)
	}
}

func TestBackupAndRestoreFamilyKey(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.device("laptop")
	smith := createFamily(t, rt, "Smith")
	key := exportKey(t, rt, "Smith")
	path := filepath.Join(t.TempDir(), "smith.whanau-key")

	if _, err := rt.BackupFamilyKey(ctx, BackupFamilyKeyOptions{Family: "Smith", Path: path}); !errors.Is(err, kerrors.ErrPassphraseRequired) {
		t.Errorf("Expected ErrPassphraseRequired, got %v", err)
	}
	result, err := rt.BackupFamilyKey(ctx, BackupFamilyKeyOptions{Family: "Smith", Path: path, Passphrase: "kia kaha"})
	if err != nil {
		t.Fatalf("BackupFamilyKey failed: %v", err)
	}
	if result.FamilyID != smith.FamilyID {
		t.Errorf("Expected family %s, got %s", smith.FamilyID, result.FamilyID)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected the backup file to exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}
	if _, err := rt.BackupFamilyKey(ctx, BackupFamilyKeyOptions{Family: "Smith", Path: path, Passphrase: "kia kaha"}); err == nil {
		t.Error("Expected an existing backup not to be overwritten without Force")
	}

	if err := rt.FamilyKeys.ClearFamilyKey(smith.FamilyID); err != nil {
		t.Fatalf("ClearFamilyKey failed: %v", err)
	}
	if _, err := rt.RestoreFamilyKey(ctx, RestoreFamilyKeyOptions{Path: path, Passphrase: "wrong"}); !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
	restored, err := rt.RestoreFamilyKey(ctx, RestoreFamilyKeyOptions{Path: path, Passphrase: "kia kaha"})
	if err != nil {
		t.Fatalf("RestoreFamilyKey failed: %v", err)
	}
	if restored.Name != "Smith" || !restored.HasKey {
		t.Errorf("Expected Smith restored with its key, got %+v", restored)
	}
	if exportKey(t, rt, "Smith") != key {
		t.Error("Expected the backup to restore the same key")
	}

	other := tb.device("desktop")
	if _, err := other.RestoreFamilyKey(ctx, RestoreFamilyKeyOptions{Path: path, Passphrase: "kia kaha"}); !errors.Is(err, kerrors.ErrFamilyNotFound) {
		t.Errorf("Expected ErrFamilyNotFound on a device outside the family, got %v", err)
	}
	if _, err := rt.RestoreFamilyKey(ctx, RestoreFamilyKeyOptions{Path: path + ".missing", Passphrase: "kia kaha"}); !errors.Is(err, kerrors.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}

	entries, err := rt.AuditLog(ctx, AuditLogOptions{})
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	var ops []string
	for _, e := range entries {
		ops = append(ops, e.Operation)
	}
	joined := strings.Join(ops, ",")
	if !strings.Contains(joined, audit.OpFamilyBackup) || !strings.Contains(joined, audit.OpFamilyRestore) {
		t.Errorf("Expected backup and restore audit entries, got %v", ops)
	}
}

func TestKeyDerivationChangeClearsFamilyKeys(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	dir, err := directory.NewFileDirectory(filepath.Join(base, ".whanau"))
	if err != nil {
		t.Fatalf("NewFileDirectory failed: %v", err)
	}

	open := func(host string) *Runtime {
		rt, err := Open(ctx, RuntimeOptions{
			Settings:    settingsIn(base),
			Environment: environment(host),
			Sessions:    &session.Memory{},
			Directory:   dir,
		})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return rt
	}

	rt := open("laptop")
	if _, err := rt.Register(ctx, RegisterOptions{Email: "aroha@example.com"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	createFamily(t, rt, "Ngata")
	if rt.Wiped() {
		t.Error("Expected a fresh store not to report a wipe")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	same := open("laptop")
	if same.Wiped() {
		t.Error("Expected the same device key to keep data")
	}
	if len(exportKey(t, same, "Ngata")) != 44 {
		t.Error("Expected the family key to persist across reopen")
	}
	if err := same.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	moved := open("renamed-host")
	defer moved.Close()
	if !moved.Wiped() {
		t.Fatal("Expected a changed device key to wipe stored keys")
	}
	families, err := moved.ListFamilies(ctx)
	if err != nil {
		t.Fatalf("ListFamilies failed: %v", err)
	}
	if len(families) != 1 || families[0].HasKey {
		t.Errorf("Expected the membership to remain without its key, got %+v", families)
	}
	info, err := moved.KeyInfo(ctx)
	if err != nil {
		t.Fatalf("KeyInfo failed: %v", err)
	}
	if info.Registered {
		t.Error("Expected the private key to be wiped")
	}
}

func TestRejoinAfterKeyDerivationChange(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	createFamily(t, admin, "Ngata")

	base := t.TempDir()
	options := func(host string) RuntimeOptions {
		return RuntimeOptions{
			Settings:    settingsIn(base),
			Environment: environment(host),
			Sessions:    &session.Memory{},
			Directory:   tb.dir,
			Now:         tb.clock.now,
		}
	}
	invite := func() string {
		t.Helper()
		issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}})
		if err != nil {
			t.Fatalf("IssueInvite failed: %v", err)
		}
		return issued.InviteCode
	}

	phone, err := Open(ctx, options("phone"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := phone.Register(ctx, RegisterOptions{Email: "tama@example.com"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	login(t, phone)
	if _, err := phone.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: invite()}); err != nil {
		t.Fatalf("AcceptInvite failed: %v", err)
	}
	if err := phone.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	moved := openRuntime(t, options("renamed-phone"))
	if !moved.Wiped() {
		t.Fatal("Expected a changed device key to wipe stored keys")
	}
	tb.clock.t = tb.clock.t.Add(time.Minute)
	if _, err := moved.Register(ctx, RegisterOptions{}); err != nil {
		t.Fatalf("Register after wipe failed: %v", err)
	}
	login(t, moved)

	accepted, err := moved.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: invite()})
	if err != nil {
		t.Fatalf("Expected the wiped member to rejoin, got %v", err)
	}
	if accepted.State != StateMember {
		t.Errorf("Expected state %s, got %s", StateMember, accepted.State)
	}
	if got := exportKey(t, moved, "Ngata"); got != exportKey(t, admin, "Ngata") {
		t.Error("Expected the rejoined device to hold the family key")
	}

	families, err := moved.ListFamilies(ctx)
	if err != nil {
		t.Fatalf("ListFamilies failed: %v", err)
	}
	if len(families) != 1 || !families[0].HasKey || families[0].Role != configs.RoleMember {
		t.Errorf("Expected one keyed membership, got %+v", families)
	}

	if _, err := moved.AcceptInvite(ctx, AcceptInviteOptions{InviteCode: invite()}); !errors.Is(err, kerrors.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition once the key is back, got %v", err)
	}
}

func TestJoinWithCode_Offline(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}

	offline := func(host string) *Runtime {
		return openRuntime(t, RuntimeOptions{
			Settings:    settingsIn(t.TempDir()),
			Environment: environment(host),
			Sessions:    &session.Memory{},
			Now:         c.now,
		})
	}
	admin := offline("laptop")
	invitee := offline("phone")

	if _, err := admin.Directory(); !errors.Is(err, kerrors.ErrDirectoryNotConfigured) {
		t.Fatalf("Expected ErrDirectoryNotConfigured, got %v", err)
	}

	family := createFamily(t, admin, "Ngata")
	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	if issued.Published {
		t.Error("Expected an untracked code with no directory")
	}
	if _, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}}); !errors.Is(err, kerrors.ErrDirectoryNotConfigured) {
		t.Errorf("Expected ErrDirectoryNotConfigured for a targeted invite, got %v", err)
	}

	if _, err := invitee.JoinWithCode(ctx, JoinWithCodeOptions{Packaged: issued.PackagedCode}); !errors.Is(err, kerrors.ErrDirectoryNotConfigured) {
		t.Errorf("Expected ErrDirectoryNotConfigured without a family id, got %v", err)
	}
	joined, err := invitee.JoinWithCode(ctx, JoinWithCodeOptions{Packaged: issued.PackagedCode, FamilyID: family.FamilyID, FamilyName: "Ngata"})
	if err != nil {
		t.Fatalf("JoinWithCode failed: %v", err)
	}
	if joined.FamilyName != "Ngata" || joined.State != StateMember {
		t.Errorf("Unexpected join result: %+v", joined)
	}
	if exportKey(t, invitee, "Ngata") != exportKey(t, admin, "Ngata") {
		t.Error("Expected both devices to hold the same family key")
	}
}

func TestFilesEndToEnd(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.registered("laptop", "aroha@example.com")
	createFamily(t, rt, "Ngata")

	work := t.TempDir()
	files := map[string][]byte{
		"notes/todo.txt":   []byte("buy bread"),
		"notes/deep/a.txt": []byte("nested"),
		"photo.png":        {0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0},
		"skip.md":          []byte("# not matched"),
	}
	for name, data := range files {
		path := filepath.Join(work, name)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	if _, err := rt.EncryptFiles(ctx, FilesOptions{Family: "Ngata", Patterns: []string{"*.nothing"}, BaseDir: work}); !errors.Is(err, kerrors.ErrNoFilesFound) {
		t.Errorf("Expected ErrNoFilesFound, got %v", err)
	}
	if _, err := rt.EncryptFiles(ctx, FilesOptions{Family: "Ngata", Patterns: []string{"missing.txt"}, BaseDir: work}); !errors.Is(err, kerrors.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}

	dry, err := rt.EncryptFiles(ctx, FilesOptions{Family: "Ngata", Patterns: []string{"**/*.txt", "photo.png"}, BaseDir: work, DryRun: true})
	if err != nil {
		t.Fatalf("EncryptFiles dry run failed: %v", err)
	}
	if len(dry.Files) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(dry.Files))
	}
	if _, err := os.Stat(filepath.Join(work, "photo.png"+SealedExt)); !os.IsNotExist(err) {
		t.Error("Expected a dry run to write nothing")
	}

	sealed, err := rt.EncryptFiles(ctx, FilesOptions{Family: "Ngata", Patterns: []string{"**/*.txt", "photo.png", "notes/todo.txt"}, BaseDir: work})
	if err != nil {
		t.Fatalf("EncryptFiles failed: %v", err)
	}
	if len(sealed.Files) != 3 {
		t.Fatalf("Expected duplicates to collapse to 3 files, got %d", len(sealed.Files))
	}
	for _, f := range sealed.Files {
		if f.Output != f.Source+SealedExt {
			t.Errorf("Expected %s, got %s", f.Source+SealedExt, f.Output)
		}
		if strings.HasSuffix(f.Source, "photo.png") && f.Type != "image/png" {
			t.Errorf("Expected image/png, got %q", f.Type)
		}
		data, err := os.ReadFile(f.Output)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if strings.Contains(string(data), "buy bread") {
			t.Error("Expected ciphertext on disk")
		}
		if err := os.Remove(f.Source); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	}

	if _, err := rt.DecryptFiles(ctx, FilesOptions{Family: "Ngata", Patterns: []string{"."}, BaseDir: work}); !errors.Is(err, kerrors.ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}

	login(t, rt)
	opened, err := rt.DecryptFiles(ctx, FilesOptions{Family: "Ngata", Patterns: []string{"."}, BaseDir: work})
	if err != nil {
		t.Fatalf("DecryptFiles failed: %v", err)
	}
	if len(opened.Files) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(opened.Files))
	}
	for name, want := range files {
		if name == "skip.md" {
			continue
		}
		got, err := os.ReadFile(filepath.Join(work, name))
		if err != nil {
			t.Fatalf("ReadFile(%s) failed: %v", name, err)
		}
		if string(got) != string(want) {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}
	for _, f := range opened.Files {
		if strings.HasSuffix(f.Output, "photo.png") && f.Type != "image/png" {
			t.Errorf("Expected the MIME type to be restored, got %q", f.Type)
		}
	}
}

func TestWriteAll_StagingFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "a.txt.whanau"),
		filepath.Join(dir, "missing", "b.txt.whanau"),
	}
	if err := writeAll(paths, [][]byte{[]byte("one"), []byte("two")}); err == nil {
		t.Fatal("Expected writeAll to fail")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no outputs or staged files, found %d entries", len(entries))
	}

	paths = paths[:1]
	if err := writeAll(paths, [][]byte{[]byte("one")}); err != nil {
		t.Fatalf("writeAll failed: %v", err)
	}
	info, err := os.Stat(paths[0])
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestFiles_TamperedFails(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	rt := tb.registered("laptop", "aroha@example.com")
	createFamily(t, rt, "Ngata")
	login(t, rt)

	work := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(work, name), []byte(name), 0600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	if _, err := rt.EncryptFiles(ctx, FilesOptions{Family: "Ngata", Patterns: []string{"*.txt"}, BaseDir: work}); err != nil {
		t.Fatalf("EncryptFiles failed: %v", err)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.Remove(filepath.Join(work, name)); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	}

	target := filepath.Join(work, "b.txt"+SealedExt)
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[len(data)-1] ^= 0x01
	if err := os.WriteFile(target, data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := rt.DecryptFiles(ctx, FilesOptions{Family: "Ngata", Patterns: []string{"*" + SealedExt}, BaseDir: work}); !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "a.txt")); !os.IsNotExist(err) {
		t.Error("Expected no file to be written when any file fails")
	}
}

func TestStatusAndCancel(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	tb.registered("phone", "tama@example.com")
	family := createFamily(t, admin, "Ngata")

	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: TargetedEncrypted{InviteeEmail: "tama@example.com"}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	tb.clock.t = tb.clock.t.Add(time.Second)
	if _, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}}); err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}

	status, err := admin.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Keys.Registered || status.Authenticated || !status.DirectoryConfigured || status.DirectoryError != nil {
		t.Errorf("Unexpected status: %+v", status)
	}
	if got := len(status.PendingInvites[family.FamilyID]); got != 2 {
		t.Errorf("Expected 2 pending invites, got %d", got)
	}
	if status.Families[0].State != StateInviteIssued || status.Families[0].InvitesIssued != 2 {
		t.Errorf("Unexpected family status: %+v", status.Families[0])
	}

	stranger := tb.registered("tablet", "mere@example.com")
	if err := stranger.CancelInvite(ctx, issued.InviteCode); !errors.Is(err, kerrors.ErrInviteMismatch) {
		t.Errorf("Expected ErrInviteMismatch, got %v", err)
	}
	if err := admin.CancelInvite(ctx, issued.InviteCode); err != nil {
		t.Fatalf("CancelInvite failed: %v", err)
	}
	if err := admin.CancelInvite(ctx, issued.InviteCode); !errors.Is(err, kerrors.ErrInviteNotPending) {
		t.Errorf("Expected ErrInviteNotPending, got %v", err)
	}

	cancels, err := admin.AuditLog(ctx, AuditLogOptions{Operation: audit.OpInviteCancel})
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	if len(cancels) != 1 || cancels[0].InviteCode != issued.InviteCode || cancels[0].Method != MethodTargeted {
		t.Errorf("Unexpected invite-cancel entries: %+v", cancels)
	}

	invites, err := admin.ListInvites(ctx, ListInvitesOptions{Family: "Ngata"})
	if err != nil {
		t.Fatalf("ListInvites failed: %v", err)
	}
	if len(invites) != 2 || invites[0].Status != directory.StatusCancelled || invites[1].Status != directory.StatusPending {
		t.Errorf("Unexpected invites: %+v", invites)
	}
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	tb := newTestbed(t)
	admin := tb.registered("laptop", "aroha@example.com")
	invitee := tb.registered("phone", "tama@example.com")
	family := createFamily(t, admin, "Ngata")

	issued, err := admin.IssueInvite(ctx, IssueInviteOptions{Family: "Ngata", Method: PackagedCode{}})
	if err != nil {
		t.Fatalf("IssueInvite failed: %v", err)
	}
	if _, err := invitee.JoinWithCode(ctx, JoinWithCodeOptions{Packaged: issued.PackagedCode}); err != nil {
		t.Fatalf("JoinWithCode failed: %v", err)
	}
	if _, err := admin.EncryptMessages(ctx, MessagesOptions{Family: "Ngata", Messages: []string{"a", "b"}}); err != nil {
		t.Fatalf("EncryptMessages failed: %v", err)
	}

	all, err := admin.AuditLog(ctx, AuditLogOptions{})
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	ops := make([]string, len(all))
	for i, e := range all {
		ops[i] = e.Operation
	}
	want := []string{audit.OpRegister, audit.OpFamilyCreate, audit.OpInviteIssue, audit.OpEncrypt}
	if strings.Join(ops, ",") != strings.Join(want, ",") {
		t.Errorf("Expected operations %v, got %v", want, ops)
	}

	issues, err := admin.AuditLog(ctx, AuditLogOptions{Operation: audit.OpInviteIssue, Family: "Ngata"})
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	if len(issues) != 1 || issues[0].Method != MethodPackaged || issues[0].InviteCode != issued.InviteCode || issues[0].FamilyID != family.FamilyID {
		t.Errorf("Unexpected invite-issue entries: %+v", issues)
	}

	latest, err := admin.AuditLog(ctx, AuditLogOptions{Limit: 1, Reverse: true})
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	if len(latest) != 1 || latest[0].Operation != audit.OpEncrypt || latest[0].Count != 2 {
		t.Errorf("Unexpected latest entry: %+v", latest)
	}

	joins, err := invitee.AuditLog(ctx, AuditLogOptions{Operation: audit.OpJoin})
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	if len(joins) != 1 || joins[0].User != "tama@example.com" {
		t.Errorf("Unexpected join entries: %+v", joins)
	}

	key := exportKey(t, admin, "Ngata")
	for _, rt := range []*Runtime{admin, invitee} {
		raw, err := os.ReadFile(rt.AuditPath)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if strings.Contains(string(raw), key) {
			t.Error("Expected the audit log never to contain a family key")
		}
	}
}

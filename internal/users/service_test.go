package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petermazzocco/go-image-sharing/internal/apperr"
	"github.com/petermazzocco/go-image-sharing/internal/images"
	"github.com/petermazzocco/go-image-sharing/internal/testutil"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	users  *Service
	images *images.Service
	blobs  *testutil.MemBlobs
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupDB(t)
	blobs := testutil.NewMemBlobs()
	imgs := images.NewService(images.NewStore(db), blobs, zap.NewNop(), images.Options{})
	return &fixture{
		db:     db,
		users:  NewService(NewStore(db), imgs, zap.NewNop()).WithHashCost(bcrypt.MinCost),
		images: imgs,
		blobs:  blobs,
	}
}

func register(t *testing.T, f *fixture, email string) *models.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), RegisterInput{
		Email: email, Password: "secret1", ConfirmPassword: "secret1",
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	return u
}

func TestRegister(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u := register(t, f, "ann@example.com")
	if !u.Active || u.UserName != "ann@example.com" {
		t.Errorf("registered user = %+v", u)
	}
	got, err := f.users.Get(ctx, u.ID)
	if err != nil || !got.HasRole(models.RoleUser) || len(got.Roles) != 1 {
		t.Errorf("roles = %v, %v", got.RoleNames(), err)
	}

	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"duplicate", RegisterInput{Email: "ann@example.com", Password: "secret1", ConfirmPassword: "secret1"}, "Email"},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "secret1", ConfirmPassword: "secret1"}, "Email"},
		{"short password", RegisterInput{Email: "x@example.com", Password: "abc", ConfirmPassword: "abc"}, "Password"},
		{"mismatch", RegisterInput{Email: "x@example.com", Password: "secret1", ConfirmPassword: "secret2"}, "ConfirmPassword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.users.Register(ctx, tt.in)
			e, ok := apperr.As(err)
			if !ok || e.Kind != apperr.KindValidation {
				t.Fatalf("Register() error = %v, want validation", err)
			}
			if _, ok := e.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %s", e.Fields, tt.field)
			}
		})
	}
}

func TestUserNamesIgnoreCase(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u, err := f.users.Register(ctx, RegisterInput{
		Email: " Ann@Example.com ", Password: "secret1", ConfirmPassword: "secret1",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.UserName != "ann@example.com" || u.Email != "ann@example.com" {
		t.Errorf("stored name = %q email = %q", u.UserName, u.Email)
	}

	_, err = f.users.Register(ctx, RegisterInput{
		Email: "ann@EXAMPLE.com", Password: "secret1", ConfirmPassword: "secret1",
	})
	if e, ok := apperr.As(err); !ok || e.Fields["Email"] == "" {
		t.Errorf("Register() with other case error = %v, want Email field", err)
	}

	if _, err := f.users.Authenticate(ctx, "ANN@example.com", "secret1"); err != nil {
		t.Errorf("Authenticate() with other case error = %v", err)
	}
	if _, err := f.users.AuthenticateExternal(ctx, "Ann@Example.COM"); err != nil {
		t.Errorf("AuthenticateExternal() with other case error = %v", err)
	}
	if err := f.users.Promote(ctx, "ANN@EXAMPLE.COM", models.RoleAdmin); err != nil {
		t.Errorf("Promote() with other case error = %v", err)
	}
}

func TestConcurrentRegisterReportsDuplicate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.users.Register(ctx, RegisterInput{
				Email: "race@example.com", Password: "secret1", ConfirmPassword: "secret1",
			})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if e, isApp := apperr.As(err); !isApp || e.Kind != apperr.KindValidation || e.Fields["Email"] == "" {
			t.Errorf("Register() error = %v, want Email field", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful registrations = %d, want 1", ok)
	}
	var count int64
	f.db.Model(&models.User{}).Where("user_name = ?", "race@example.com").Count(&count)
	if count != 1 {
		t.Errorf("stored users = %d, want 1", count)
	}
}

func TestAuthenticate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := register(t, f, "ann@example.com")

	if _, err := f.users.Authenticate(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	check := func(name, pw, want string) {
		t.Helper()
		_, err := f.users.Authenticate(ctx, name, pw)
		e, ok := apperr.As(err)
		if !ok || e.Kind != apperr.KindAuth || e.Message != want {
			t.Errorf("Authenticate(%s) error = %v, want %q", name, err, want)
		}
	}
	check("nobody@example.com", "secret1", apperr.MsgNoSuchUser)
	check("ann@example.com", "wrong", apperr.MsgLoginFailed)

	if got, err := f.users.AuthenticateExternal(ctx, " ann@example.com "); err != nil || got.ID != u.ID {
		t.Errorf("AuthenticateExternal() = %v, %v", got, err)
	}
	if _, err := f.users.AuthenticateExternal(ctx, "nobody@example.com"); !apperr.Is(err, apperr.KindAuth) {
		t.Errorf("AuthenticateExternal() unknown error = %v", err)
	}

	if _, err := f.users.Manage(ctx, map[uint]bool{u.ID: false}); err != nil {
		t.Fatal(err)
	}
	check("ann@example.com", "secret1", apperr.MsgNoSuchUser)
	if _, err := f.users.AuthenticateExternal(ctx, "ann@example.com"); !apperr.Is(err, apperr.KindAuth) {
		t.Errorf("AuthenticateExternal() inactive error = %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := register(t, f, "ann@example.com")

	if err := f.users.ChangePassword(ctx, u.ID, "wrong", "newpass", "newpass"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("ChangePassword() wrong old error = %v", err)
	}
	if err := f.users.ChangePassword(ctx, u.ID, "secret1", "new", "new"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("ChangePassword() short error = %v", err)
	}
	if err := f.users.ChangePassword(ctx, u.ID, "secret1", "newpass", "newpass"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := f.users.Authenticate(ctx, "ann@example.com", "newpass"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, err := f.users.Authenticate(ctx, "ann@example.com", "secret1"); !apperr.Is(err, apperr.KindAuth) {
		t.Errorf("login with old password error = %v", err)
	}
}

func TestManageCascade(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ann := register(t, f, "ann@example.com")
	ben := register(t, f, "ben@example.com")

	upload := func(u *models.User, caption string) {
		t.Helper()
		_, err := f.images.Upload(ctx, images.Owner{ID: u.ID, UserName: u.UserName}, images.UploadInput{
			Caption: caption, DateTaken: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Data: testutil.PNG,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	upload(ann, "one")
	upload(ann, "two")
	upload(ben, "three")

	desired := map[uint]bool{ann.ID: false, ben.ID: true}
	res, err := f.users.Manage(ctx, desired)
	if err != nil {
		t.Fatalf("Manage() error = %v", err)
	}
	if res.Deactivated != 1 || res.ImagesRemoved != 2 || res.Reactivated != 0 {
		t.Errorf("Manage() = %+v", res)
	}

	byAnn, _ := f.images.ListByUser(ctx, ann.ID)
	all, _ := f.images.ListAll(ctx)
	if len(byAnn) != 0 || len(all) != 1 {
		t.Errorf("after deactivation: byAnn=%d all=%d", len(byAnn), len(all))
	}
	if f.blobs.Len() != 1 {
		t.Errorf("blobs = %d, want 1", f.blobs.Len())
	}

	// resubmitting the same form changes nothing
	res, err = f.users.Manage(ctx, desired)
	if err != nil || res != (ManageResult{}) {
		t.Errorf("second Manage() = %+v, %v", res, err)
	}

	res, err = f.users.Manage(ctx, map[uint]bool{ann.ID: true})
	if err != nil || res.Reactivated != 1 {
		t.Fatalf("reactivate = %+v, %v", res, err)
	}
	byAnn, _ = f.images.ListByUser(ctx, ann.ID)
	if len(byAnn) != 0 {
		t.Errorf("reactivation resurrected %d images", len(byAnn))
	}
	got, _ := f.users.Get(ctx, ann.ID)
	if !got.Active {
		t.Error("user not reactivated")
	}

	active, _ := f.users.ListActive(ctx)
	if len(active) != 2 {
		t.Errorf("ListActive() = %d users", len(active))
	}
}

func TestPromote(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := register(t, f, "ann@example.com")

	for i := 0; i < 2; i++ {
		if err := f.users.Promote(ctx, "ann@example.com", models.RoleAdmin); err != nil {
			t.Fatalf("Promote() error = %v", err)
		}
	}
	got, _ := f.users.Get(ctx, u.ID)
	if !got.HasRole(models.RoleAdmin) || len(got.Roles) != 2 {
		t.Errorf("roles = %v", got.RoleNames())
	}
	if err := f.users.Promote(ctx, "ann@example.com", "Root"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Promote(unknown role) error = %v", err)
	}
}

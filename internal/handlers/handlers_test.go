package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/petermazzocco/go-image-sharing/internal/auth"
	"github.com/petermazzocco/go-image-sharing/internal/config"
	"github.com/petermazzocco/go-image-sharing/internal/images"
	"github.com/petermazzocco/go-image-sharing/internal/testutil"
	"github.com/petermazzocco/go-image-sharing/internal/users"
	"github.com/petermazzocco/go-image-sharing/internal/viewlog"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type app struct {
	srv *httptest.Server
	db  *gorm.DB
}

func newApp(t *testing.T) *app {
	t.Helper()
	return newAppWith(t, images.Options{})
}

func newAppWith(t *testing.T, opts images.Options) *app {
	t.Helper()
	db := testutil.SetupDB(t)
	log := zap.NewNop()

	imgs := images.NewService(images.NewStore(db), testutil.NewMemBlobs(), log, opts)
	us := users.NewService(users.NewStore(db), imgs, log).WithHashCost(bcrypt.MinCost)
	session := config.SessionConfig{Secret: "test-secret-test-secret-test-sec", MaxAge: 3600}
	store := auth.NewCookieStore(session)

	h := &Handler{
		Users:          us,
		Images:         imgs,
		Views:          viewlog.New(viewlog.NewGormStore(db), log),
		Auth:           auth.NewManager(store, us, log, 3600),
		Log:            log,
		MaxUploadBytes: 1 << 20,
	}
	srv := httptest.NewServer(NewRouter(h, RouterOptions{CSRFSecret: session.Secret}))
	t.Cleanup(srv.Close)
	return &app{srv: srv, db: db}
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func (a *app) client(t *testing.T) *client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, base: a.srv.URL, http: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

type result struct {
	status   int
	location string
	page     page
	raw      []byte
	cookies  []*http.Cookie
}

func (c *client) do(req *http.Request) result {
	c.t.Helper()
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	res := result{status: resp.StatusCode, location: resp.Header.Get("Location"), raw: raw, cookies: resp.Cookies()}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &res.page); err != nil {
			c.t.Fatalf("decode %s: %v", req.URL, err)
		}
	}
	return res
}

func (c *client) get(path string) result {
	c.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, c.base+path, nil)
	return c.do(req)
}

// token fetches a form page and returns its anti-forgery token.
func (c *client) token(path string) string {
	c.t.Helper()
	res := c.get(path)
	if res.page.CSRFToken == "" {
		c.t.Fatalf("no token on %s (status %d)", path, res.status)
	}
	return res.page.CSRFToken
}

func (c *client) post(path string, form url.Values) result {
	c.t.Helper()
	req, _ := http.NewRequest(http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// submit posts form to path with the token from tokenPath.
func (c *client) submit(tokenPath, path string, form url.Values) result {
	c.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set(auth.CSRFField, c.token(tokenPath))
	return c.post(path, form)
}

func (c *client) login(name string) {
	c.t.Helper()
	res := c.submit("/Account/Login", "/Account/Login", url.Values{
		"UserName": {name},
		"Password": {"secret1"},
	})
	if res.status != http.StatusSeeOther {
		c.t.Fatalf("login %s: status %d %s", name, res.status, res.raw)
	}
}

func (c *client) upload(caption string) string {
	c.t.Helper()
	res := c.postImage(caption, testutil.PNG)
	if res.status != http.StatusSeeOther || !strings.HasPrefix(res.location, "/Images/Details/") {
		c.t.Fatalf("upload: status %d location %q body %s", res.status, res.location, res.raw)
	}
	return res.location
}

func (c *client) postImage(caption string, data []byte) result {
	c.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField(auth.CSRFField, c.token("/Images/Upload"))
	mw.WriteField("Caption", caption)
	mw.WriteField("Description", "taken at dusk")
	mw.WriteField("DateTaken", "2024-05-17")
	fw, _ := mw.CreateFormFile("ImageFile", "sunset.png")
	fw.Write(data)
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, c.base+"/Images/Upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func modelMap(t *testing.T, p page) map[string]any {
	t.Helper()
	m, ok := p.Model.(map[string]any)
	if !ok {
		t.Fatalf("model = %#v", p.Model)
	}
	return m
}

func TestRegisterSignsInAndSetsAda(t *testing.T) {
	a := newApp(t)
	c := a.client(t)

	res := c.submit("/Account/Register", "/Account/Register", url.Values{
		"Email":           {"ann@example.com"},
		"Password":        {"secret1"},
		"ConfirmPassword": {"secret1"},
		"ADA":             {"on"},
	})
	if res.status != http.StatusSeeOther {
		t.Fatalf("register status = %d body %s", res.status, res.raw)
	}
	var ada *http.Cookie
	for _, ck := range res.cookies {
		if ck.Name == auth.AdaCookie {
			ada = ck
		}
	}
	if ada == nil || ada.Value != "true" {
		t.Fatalf("ADA cookie = %+v", ada)
	}

	home := c.get("/")
	if home.page.UserName != "ann@example.com" || !home.page.IsAda {
		t.Errorf("home page = %+v", home.page)
	}

	res = c.submit("/Account/Register", "/Account/Register", url.Values{
		"Email":           {"ann@example.com"},
		"Password":        {"secret1"},
		"ConfirmPassword": {"secret1"},
	})
	if res.status != http.StatusUnprocessableEntity || res.page.Errors["Email"] == "" {
		t.Errorf("duplicate register = %d %+v", res.status, res.page.Errors)
	}
}

func TestLoginErrors(t *testing.T) {
	a := newApp(t)
	testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	c := a.client(t)

	res := c.submit("/Account/Login", "/Account/Login", url.Values{"UserName": {"nobody"}, "Password": {"x"}})
	if res.status != http.StatusUnauthorized || res.page.Message != "No such user" {
		t.Errorf("unknown user = %d %q", res.status, res.page.Message)
	}
	res = c.submit("/Account/Login", "/Account/Login", url.Values{"UserName": {"ann@example.com"}, "Password": {"wrong"}})
	if res.status != http.StatusUnauthorized || res.page.Message != "Login failed" {
		t.Errorf("bad password = %d %q", res.status, res.page.Message)
	}
	res = c.post("/Account/Login", url.Values{"UserName": {"ann@example.com"}, "Password": {"secret1"}})
	if res.status != http.StatusBadRequest {
		t.Errorf("missing token = %d", res.status)
	}

	res = c.submit("/Account/Login?ReturnUrl=%2FImages%2FListAll", "/Account/Login", url.Values{
		"UserName":  {"ann@example.com"},
		"Password":  {"secret1"},
		"ReturnUrl": {"/Images/ListAll"},
	})
	if res.status != http.StatusSeeOther || res.location != "/Images/ListAll" {
		t.Errorf("login redirect = %d %q", res.status, res.location)
	}
}

func TestAnonymousAndRoleRedirects(t *testing.T) {
	a := newApp(t)
	testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	c := a.client(t)

	res := c.get("/Images/ListAll")
	if res.status != http.StatusSeeOther || res.location != "/Account/Login?ReturnUrl=%2FImages%2FListAll" {
		t.Errorf("anonymous = %d %q", res.status, res.location)
	}

	c.login("ann@example.com")
	res = c.get("/Images/ImageViewsList?Today=true")
	if res.status != http.StatusSeeOther || !strings.HasPrefix(res.location, "/Account/AccessDenied?ReturnUrl=") {
		t.Errorf("non supervisor = %d %q", res.status, res.location)
	}
	res = c.get("/Account/Manage")
	if res.status != http.StatusSeeOther || !strings.HasPrefix(res.location, "/Account/AccessDenied") {
		t.Errorf("non admin = %d %q", res.status, res.location)
	}
}

func TestUploadDetailsFileAndViewLog(t *testing.T) {
	a := newApp(t)
	testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	testutil.CreateUser(t, a.db, "sup@example.com", models.RoleSupervisor)

	ann := a.client(t)
	ann.login("ann@example.com")
	details := ann.upload("Sunset")

	res := ann.get(details)
	if res.status != http.StatusOK || res.page.View != "Details" {
		t.Fatalf("details = %d %s", res.status, res.raw)
	}
	m := modelMap(t, res.page)
	if m["caption"] != "Sunset" || m["description"] != "taken at dusk" || m["dateTaken"] != "2024-05-17" {
		t.Errorf("details model = %v", m)
	}

	file := ann.get(m["uri"].(string))
	if file.status != http.StatusOK || !bytes.Equal(file.raw, testutil.PNG) {
		t.Errorf("file = %d %d bytes", file.status, len(file.raw))
	}

	res = ann.get("/Images/Details/1/missing")
	if res.status != http.StatusSeeOther || res.location != "/Home/Error?ErrId="+url.QueryEscape("Details: missing") {
		t.Errorf("missing details = %d %q", res.status, res.location)
	}

	sup := a.client(t)
	sup.login("sup@example.com")
	res = sup.get("/Images/ImageViewsList?Today=true")
	if res.status != http.StatusOK {
		t.Fatalf("views list = %d %s", res.status, res.raw)
	}
	entries := modelMap(t, res.page)["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}
	entry := entries[0].(map[string]any)
	if entry["caption"] != "Sunset" || entry["userName"] != "ann@example.com" {
		t.Errorf("entry = %v", entry)
	}
	all := sup.get("/Images/ImageViewsList?Today=false")
	if got := modelMap(t, all.page)["entries"].([]any); len(got) != 1 {
		t.Errorf("all entries = %d", len(got))
	}
}

func TestUploadTooLarge(t *testing.T) {
	a := newApp(t)
	testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	ann := a.client(t)
	ann.login("ann@example.com")

	big := append(append([]byte{}, testutil.PNG...), bytes.Repeat([]byte{0}, 2<<20)...)
	res := ann.postImage("Huge", big)
	if res.status != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized upload = %d %s", res.status, res.raw)
	}
	if res.page.View != "Upload" || res.page.Errors["ImageFile"] == "" || res.page.CSRFToken == "" {
		t.Errorf("oversized upload page = %+v", res.page)
	}

	list := ann.get("/Images/ListAll")
	if imgs := modelMap(t, list.page)["images"].([]any); len(imgs) != 0 {
		t.Errorf("images after oversized upload = %d", len(imgs))
	}
	ann.upload("Small")
}

func TestUnapprovedImageVisibility(t *testing.T) {
	a := newAppWith(t, images.Options{RequireApproval: true})
	testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	testutil.CreateUser(t, a.db, "bob@example.com", models.RoleUser)
	testutil.CreateUser(t, a.db, "appr@example.com", models.RoleApprover)

	ann := a.client(t)
	ann.login("ann@example.com")
	details := ann.upload("Pending")
	id := details[strings.LastIndex(details, "/")+1:]
	file := strings.Replace(details, "/Details/", "/File/", 1)

	if res := ann.get(details); res.status != http.StatusOK {
		t.Errorf("owner details = %d", res.status)
	}

	bob := a.client(t)
	bob.login("bob@example.com")
	if res := bob.get(details); res.status != http.StatusSeeOther || res.location != "/Home/Error?ErrId="+url.QueryEscape("Details: "+id) {
		t.Errorf("other user details = %d %q", res.status, res.location)
	}
	if res := bob.get(file); res.status != http.StatusSeeOther {
		t.Errorf("other user file = %d", res.status)
	}

	appr := a.client(t)
	appr.login("appr@example.com")
	if res := appr.get(file); res.status != http.StatusOK || !bytes.Equal(res.raw, testutil.PNG) {
		t.Errorf("approver file = %d", res.status)
	}
	res := appr.submit("/Images/Approve", "/Images/Approve", url.Values{"id": {id}})
	if res.status != http.StatusOK {
		t.Fatalf("approve = %d %s", res.status, res.raw)
	}
	if res := bob.get(details); res.status != http.StatusOK {
		t.Errorf("other user details after approval = %d", res.status)
	}
}

func TestOnlyOwnerCanDelete(t *testing.T) {
	a := newApp(t)
	annUser := testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	testutil.CreateUser(t, a.db, "bob@example.com", models.RoleUser)

	ann := a.client(t)
	ann.login("ann@example.com")
	details := ann.upload("Sunset")
	id := details[strings.LastIndex(details, "/")+1:]
	deletePath := "/Images/Delete/" + strconv.FormatUint(uint64(annUser.ID), 10) + "/" + id

	bob := a.client(t)
	bob.login("bob@example.com")
	res := bob.get(deletePath)
	if res.status != http.StatusSeeOther || res.location != "/Home/Error?ErrId=DeleteNotAuth" {
		t.Errorf("bob delete form = %d %q", res.status, res.location)
	}
	res = bob.submit("/Images/Upload", deletePath, nil)
	if res.status != http.StatusSeeOther || res.location != "/Home/Error?ErrId=DeleteNotAuth" {
		t.Errorf("bob delete = %d %q", res.status, res.location)
	}
	list := bob.get("/Images/ListAll")
	if imgs := modelMap(t, list.page)["images"].([]any); len(imgs) != 1 {
		t.Fatalf("images after bob delete = %d", len(imgs))
	}

	res = ann.submit(deletePath, deletePath, nil)
	if res.status != http.StatusSeeOther || res.location != "/" {
		t.Errorf("ann delete = %d %q", res.status, res.location)
	}
	list = ann.get("/Images/ListAll")
	if imgs := modelMap(t, list.page)["images"].([]any); len(imgs) != 0 {
		t.Errorf("images after ann delete = %d", len(imgs))
	}
}

func TestEditValidationAndUpdate(t *testing.T) {
	a := newApp(t)
	annUser := testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	ann := a.client(t)
	ann.login("ann@example.com")
	details := ann.upload("Sunset")
	id := details[strings.LastIndex(details, "/")+1:]
	editPath := "/Images/Edit/" + strconv.FormatUint(uint64(annUser.ID), 10) + "/" + id

	res := ann.submit(editPath, editPath, url.Values{"Caption": {strings.Repeat("x", 41)}, "DateTaken": {"2024-01-01"}})
	if res.status != http.StatusUnprocessableEntity || res.page.Errors["Caption"] == "" {
		t.Errorf("long caption = %d %+v", res.status, res.page.Errors)
	}
	res = ann.submit(editPath, editPath, url.Values{"Caption": {"Dusk"}, "DateTaken": {"01/02/2024"}})
	if res.status != http.StatusUnprocessableEntity || res.page.Errors["DateTaken"] == "" {
		t.Errorf("bad date = %d %+v", res.status, res.page.Errors)
	}

	res = ann.submit(editPath, editPath, url.Values{"Caption": {"Dusk"}, "DateTaken": {"2023-12-31"}})
	if res.status != http.StatusSeeOther || res.location != details {
		t.Fatalf("edit = %d %q %s", res.status, res.location, res.raw)
	}
	m := modelMap(t, ann.get(details).page)
	if m["caption"] != "Dusk" || m["dateTaken"] != "2023-12-31" {
		t.Errorf("edited = %v", m)
	}
}

func TestManageDeactivationEndsSessionAndRemovesImages(t *testing.T) {
	a := newApp(t)
	annUser := testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	testutil.CreateUser(t, a.db, "root@example.com", models.RoleUser, models.RoleAdmin)

	ann := a.client(t)
	ann.login("ann@example.com")
	ann.upload("one")
	ann.upload("two")

	admin := a.client(t)
	admin.login("root@example.com")
	form := admin.get("/Account/Manage")
	if form.status != http.StatusOK || len(modelMap(t, form.page)["users"].([]any)) != 2 {
		t.Fatalf("manage form = %d %s", form.status, form.raw)
	}

	res := admin.submit("/Account/Manage", "/Account/Manage", url.Values{
		"user": {strconv.FormatUint(uint64(annUser.ID), 10)},
	})
	if res.status != http.StatusOK || res.page.Message == "" {
		t.Fatalf("manage = %d %s", res.status, res.raw)
	}

	list := admin.get("/Images/ListAll")
	if imgs := modelMap(t, list.page)["images"].([]any); len(imgs) != 0 {
		t.Errorf("images after deactivation = %d", len(imgs))
	}
	res = ann.get("/Images/ListAll")
	if res.status != http.StatusSeeOther || !strings.HasPrefix(res.location, "/Account/Login") {
		t.Errorf("deactivated session = %d %q", res.status, res.location)
	}
}

func TestListByUserAndTag(t *testing.T) {
	a := newApp(t)
	testutil.CreateUser(t, a.db, "ann@example.com", models.RoleUser)
	c := a.client(t)
	c.login("ann@example.com")

	res := c.get("/Images/ListByUser")
	if res.status != http.StatusOK || res.page.View != "ListByUser" {
		t.Errorf("list by user form = %d %s", res.status, res.raw)
	}
	res = c.get("/Images/ListByUser?Id=999")
	if res.status != http.StatusSeeOther || res.location != "/Home/Error?ErrId=ListByUser" {
		t.Errorf("unknown user = %d %q", res.status, res.location)
	}
	res = c.get("/Images/ListByTag")
	if tags := modelMap(t, res.page)["tags"].([]any); len(tags) != len(testutil.Tags) {
		t.Errorf("tags = %v", tags)
	}
	res = c.get("/Images/ListByTag?Id=999")
	if res.status != http.StatusSeeOther || res.location != "/Home/Error?ErrId=ListByTag" {
		t.Errorf("unknown tag = %d %q", res.status, res.location)
	}
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	res := a.client(t).get("/health")
	if res.status != http.StatusOK {
		t.Errorf("health = %d", res.status)
	}
}

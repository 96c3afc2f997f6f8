package ecgstore

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// API exposes the exam and user services over HTTP with JSON bodies.
// Routes follow the usual REST shape; listing endpoints take the filter
// parameters straight from the query string.
type API struct {
	exams  *ExamService
	users  *UserService
	logger Logger
}

// NewAPI creates the HTTP API
func NewAPI(exams *ExamService, users *UserService, logger Logger) *API {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &API{exams: exams, users: users, logger: logger}
}

// Register mounts every route on mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /exams", a.listExams)
	mux.HandleFunc("POST /exams", a.createExam)
	mux.HandleFunc("POST /exams/with-image", a.createExamWithImage)
	mux.HandleFunc("GET /exams/category-counts", a.examCategoryCounts)
	mux.HandleFunc("GET /exams/{id}", a.getExam)
	mux.HandleFunc("PATCH /exams/{id}", a.patchExam)
	mux.HandleFunc("DELETE /exams/{id}", a.deleteExam)
	mux.HandleFunc("DELETE /exams/{id}/purge", a.purgeExam)
	mux.HandleFunc("GET /exams/{id}/image", a.examImage)

	mux.HandleFunc("GET /users", a.listUsers)
	mux.HandleFunc("POST /users", a.createUser)
	mux.HandleFunc("GET /users/{id}", a.getUser)
	mux.HandleFunc("PATCH /users/{id}", a.patchUser)
	mux.HandleFunc("DELETE /users/{id}", a.deleteUser)
	mux.HandleFunc("POST /login", a.login)
}

func (a *API) listExams(w http.ResponseWriter, r *http.Request) {
	raw, pg := queryParams(r)

	if cursor := r.URL.Query().Get("cursor"); cursor != "" || r.URL.Query().Has("useCursor") {
		page, err := a.exams.ListCursor(r.Context(), raw, cursor, pg.Limit)
		if err != nil {
			a.fail(w, err)
			return
		}
		a.ok(w, http.StatusOK, page)
		return
	}

	page, err := a.exams.List(r.Context(), raw, pg)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusOK, page)
}

func (a *API) createExam(w http.ResponseWriter, r *http.Request) {
	var e Exam
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		a.fail(w, WithContext(ErrInvalidArgument, map[string]interface{}{"reason": err.Error()}))
		return
	}

	created, err := a.exams.Create(r.Context(), &e)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusCreated, created)
}

// createExamWithImage accepts multipart form data: an "exam" JSON part
// and a "file" part with the recording.
func (a *API) createExamWithImage(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		a.fail(w, WithContext(ErrInvalidArgument, map[string]interface{}{"reason": "missing file part"}))
		return
	}
	defer file.Close()

	var e Exam
	if err := json.Unmarshal([]byte(r.FormValue("exam")), &e); err != nil {
		a.fail(w, WithContext(ErrInvalidArgument, map[string]interface{}{"reason": err.Error()}))
		return
	}

	created, err := a.exams.CreateWithImage(r.Context(), &e,
		header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusCreated, created)
}

func (a *API) getExam(w http.ResponseWriter, r *http.Request) {
	e, err := a.exams.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusOK, e)
}

func (a *API) patchExam(w http.ResponseWriter, r *http.Request) {
	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		a.fail(w, WithContext(ErrInvalidArgument, map[string]interface{}{"reason": err.Error()}))
		return
	}

	e, err := a.exams.Patch(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusOK, e)
}

func (a *API) deleteExam(w http.ResponseWriter, r *http.Request) {
	e, err := a.exams.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusOK, e)
}

func (a *API) purgeExam(w http.ResponseWriter, r *http.Request) {
	e, err := a.exams.HardDelete(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusOK, e)
}

func (a *API) examImage(w http.ResponseWriter, r *http.Request) {
	info, rc, err := a.exams.DownloadImage(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	defer rc.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Warn("image stream interrupted", "id", info.ID, "error", err)
	}
}

func (a *API) examCategoryCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.exams.CategoryCounts(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusOK, counts)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	raw, pg := queryParams(r)
	page, err := a.users.List(r.Context(), raw, pg)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w, http.StatusOK, page)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		User
		Password string `json:"plainPassword,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.fail(w, WithContext(ErrInvalidArgument, map[string]interface{}{"reason": err.Error()}))
		return
	}

	u := in.User
	if in.Password != "" {
		if err := u.SetPassword(in.Password); err != nil {
			a.fail(w, WithContext(ErrValidation, map[string]interface{}{"reason": err.Error()}))
			return
		}
	}

	created, err := a.users.Create(r.Context(), &u)
	if err != nil {
		a.fail(w, err)
		return
	}
	created.PasswordHash = ""
	a.ok(w, http.StatusCreated, created)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	u.PasswordHash = ""
	a.ok(w, http.StatusOK, u)
}

func (a *API) patchUser(w http.ResponseWriter, r *http.Request) {
	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		a.fail(w, WithContext(ErrInvalidArgument, map[string]interface{}{"reason": err.Error()}))
		return
	}
	delete(fields, "password")

	u, err := a.users.Patch(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		a.fail(w, err)
		return
	}
	u.PasswordHash = ""
	a.ok(w, http.StatusOK, u)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.users.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	u.PasswordHash = ""
	a.ok(w, http.StatusOK, u)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.fail(w, WithContext(ErrInvalidArgument, map[string]interface{}{"reason": err.Error()}))
		return
	}

	u, err := a.users.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		a.fail(w, err)
		return
	}
	u.PasswordHash = ""
	a.ok(w, http.StatusOK, u)
}

// queryParams splits the query string into filter parameters and
// pagination. Multi-valued parameters keep their first value; filters
// are comma-separated by convention.
func queryParams(r *http.Request) (map[string]string, Pagination) {
	raw := make(map[string]string)
	var pg Pagination

	for k, vs := range r.URL.Query() {
		if len(vs) == 0 {
			continue
		}
		switch k {
		case "page":
			pg.Page, _ = strconv.Atoi(vs[0])
		case "limit":
			pg.Limit, _ = strconv.Atoi(vs[0])
		case "cursor", "useCursor":
		default:
			raw[k] = vs[0]
		}
	}
	return raw, pg.Normalize()
}

func (a *API) ok(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("response encode failed", "error", err)
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case IsNotFound(err):
		status = http.StatusNotFound
	case IsAlreadyExists(err):
		status = http.StatusConflict
	case IsConflict(err):
		status = http.StatusConflict
	case IsValidation(err), errors.Is(err, ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

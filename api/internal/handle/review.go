package handle

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/review"
	"homework-review/api/internal/util"
)

// multipartMemory is how much of a multipart body is kept in memory
// before spilling to temp files.
const multipartMemory = 8 << 20

// reviewReq is the JSON form of an upload: image is base64 or a data URL.
type reviewReq struct {
	Image  string `json:"image"`
	MIME   string `json:"mime"`
	Engine string `json:"engine"`
}

// Review grades an uploaded homework photo. By default it answers with the
// model's raw text; ?format=json returns the parsed and checked report.
func (h *Handle) Review(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeReviewRequest(r)
	if err != nil {
		return err
	}
	req.Source = "http"

	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		rep, err := h.svc.Grade(r.Context(), req)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusCreated, rep)
	}

	out, err := h.svc.Review(r.Context(), req)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_, err = io.WriteString(w, out)
	return err
}

func decodeReviewRequest(r *http.Request) (review.Request, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "multipart/form-data":
		return decodeMultipart(r)
	case "application/json":
		return decodeJSON(r)
	}
	return review.Request{}, apperr.InvalidParams("expected multipart/form-data with an image field or a JSON body", nil)
}

func decodeMultipart(r *http.Request) (review.Request, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return review.Request{}, bodyError("bad multipart form", err)
	}
	f, fh, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return review.Request{}, apperr.InvalidParams("image is required", nil)
	}
	if err != nil {
		return review.Request{}, bodyError("bad image field", err)
	}
	defer f.Close()

	img, err := io.ReadAll(f)
	if err != nil {
		return review.Request{}, bodyError("read image", err)
	}
	return review.Request{
		Image:  img,
		MIME:   fh.Header.Get("Content-Type"),
		Engine: r.FormValue("engine"),
	}, nil
}

func decodeJSON(r *http.Request) (review.Request, error) {
	var in reviewReq
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return review.Request{}, bodyError("bad json", err)
	}
	if strings.TrimSpace(in.Image) == "" {
		return review.Request{}, apperr.InvalidParams("image is required", nil)
	}
	img, hint, err := util.DecodeBase64MaybeDataURL(in.Image)
	if err != nil {
		return review.Request{}, apperr.InvalidParams("image is not valid base64", err)
	}
	engine := in.Engine
	if engine == "" {
		engine = r.URL.Query().Get("engine")
	}
	return review.Request{
		Image:  img,
		MIME:   util.PickMIME(in.MIME, hint, img),
		Engine: engine,
	}, nil
}

// bodyError keeps an oversize body as is so that it is reported as 413.
func bodyError(msg string, err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}
	return apperr.InvalidParams(msg+": "+err.Error(), err)
}

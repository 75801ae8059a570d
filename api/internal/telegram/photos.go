package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"time"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/review"
)

const (
	maxPixels   = 18_000_000
	maxPageSize = 20 << 20
)

// photoBatch collects the pages of one album (or of one chat without an
// album) until no new page arrives for the debounce period.
type photoBatch struct {
	chatID  int64
	fileIDs []string
	pages   [][]byte
	timer   *time.Timer
}

func (r *Router) acceptPage(ctx context.Context, cid int64, mediaGroupID, fileID string) {
	page, err := r.download(ctx, fileID)
	if err != nil {
		r.reportFailure(cid, err, map[string]any{"file_id": fileID})
		return
	}

	key := fmt.Sprintf("chat:%d", cid)
	if mediaGroupID != "" {
		key = "grp:" + mediaGroupID
	}
	debounce := r.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	r.mu.Lock()
	if r.batches == nil {
		r.batches = make(map[string]*photoBatch)
	}
	b := r.batches[key]
	// a batch whose timer already fired is being graded; start a new one
	if b != nil && !b.timer.Stop() {
		b = nil
	}
	if b == nil {
		b = &photoBatch{chatID: cid}
		r.batches[key] = b
		r.wg.Add(1)
		b.timer = time.AfterFunc(debounce, func() {
			defer r.wg.Done()
			r.processBatch(context.WithoutCancel(ctx), key, b)
		})
	} else {
		b.timer.Reset(debounce)
	}
	b.pages = append(b.pages, page)
	b.fileIDs = append(b.fileIDs, fileID)
	first := len(b.pages) == 1
	r.mu.Unlock()

	if first {
		r.send(cid, "Фото принято. Если страниц несколько, пришли их подряд, я склею их перед проверкой.")
	}
}

func (r *Router) processBatch(ctx context.Context, key string, b *photoBatch) {
	r.mu.Lock()
	if r.batches[key] == b {
		delete(r.batches, key)
	}
	pages, fileIDs := b.pages, b.fileIDs
	r.mu.Unlock()

	payload := map[string]any{"file_ids": fileIDs, "pages": len(pages)}

	img := pages[0]
	if len(pages) > 1 {
		merged, err := stitch(pages)
		if err != nil {
			r.reportFailure(b.chatID, apperr.InvalidParams("could not combine album pages", err), payload)
			return
		}
		img = merged
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	rep, err := r.Grader.Grade(ctx, review.Request{
		Image:  img,
		Engine: r.engineName(b.chatID),
		Source: "telegram",
		ChatID: b.chatID,
	})
	if err != nil {
		r.reportFailure(b.chatID, err, payload)
		return
	}
	r.send(b.chatID, FormatReport(rep))
}

func (r *Router) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, apperr.ExternalService("telegram getFile failed", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.ExternalService("telegram download failed", err)
	}
	hc := r.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, apperr.ExternalService("telegram download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.ExternalService("telegram download failed", fmt.Errorf("status %d", resp.StatusCode))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize+1))
	if err != nil {
		return nil, apperr.ExternalService("telegram download failed", err)
	}
	if len(b) > maxPageSize {
		return nil, apperr.InvalidParams("photo is too large", nil)
	}
	return b, nil
}

// stitch stacks pages vertically, centred on a white canvas, and scales the
// result down to maxPixels. The output is JPEG.
func stitch(pages [][]byte) ([]byte, error) {
	imgs := make([]image.Image, 0, len(pages))
	maxW, sumH := 0, 0
	for i, p := range pages {
		img, _, err := image.Decode(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		imgs = append(imgs, img)
		maxW = max(maxW, img.Bounds().Dx())
		sumH += img.Bounds().Dy()
	}
	if maxW == 0 || sumH == 0 {
		return nil, fmt.Errorf("empty pages")
	}

	canvas := image.NewRGBA(image.Rect(0, 0, maxW, sumH))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		x := (maxW - b.Dx()) / 2
		draw.Draw(canvas, image.Rect(x, y, x+b.Dx(), y+b.Dy()), img, b.Min, draw.Over)
		y += b.Dy()
	}

	var out image.Image = canvas
	if px := maxW * sumH; px > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(px))
		out = scaleDown(canvas, max(1, int(float64(maxW)*scale+0.5)), max(1, int(float64(sumH)*scale+0.5)))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scaleDown is nearest-neighbour resampling; good enough for text photos.
func scaleDown(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sb.Dy()/h
		for x := 0; x < w; x++ {
			dst.Set(x, y, src.At(sb.Min.X+x*sb.Dx()/w, sy))
		}
	}
	return dst
}

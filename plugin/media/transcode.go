package media

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/gif"
	"net/http"
	"os"
	"os/exec"
	"strconv"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// Still-image decoders for image.Decode.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// decodedImage is a decoded media image: one frame for stills, all
// frames with per-frame durations for animations.
type decodedImage struct {
	frames    []*image.NRGBA
	durations []uint
	width     int
	height    int
	animated  bool
}

// transcode converts raw image bytes to WebP. Animations keep every
// frame, per-frame durations and the infinite-loop flag. For stills an
// external cwebp binary is tried first when configured; any failure
// falls back to the in-process encoder.
func (p *Processor) transcode(ctx context.Context, data []byte) (*decodedImage, []byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, nil, err
	}

	if !img.animated && p.cwebpPath != "" {
		if out, err := p.cwebpEncode(ctx, data); err == nil {
			return img, out, nil
		}
	}

	out, err := encodeWebP(img)
	if err != nil {
		return nil, nil, err
	}
	return img, out, nil
}

func (p *Processor) thumbnail(img *decodedImage) ([]byte, error) {
	if len(img.frames) == 0 {
		return nil, errors.New("no frames to thumbnail")
	}
	thumb := imaging.Fit(img.frames[0], thumbnailMaxSide, thumbnailMaxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, thumb, nil); err != nil {
		return nil, errors.Wrap(err, "failed to encode thumbnail")
	}
	return buf.Bytes(), nil
}

func encodeWebP(img *decodedImage) ([]byte, error) {
	var buf bytes.Buffer
	if img.animated {
		ani := &nativewebp.Animation{
			Images:    make([]image.Image, 0, len(img.frames)),
			Durations: img.durations,
			Disposals: make([]uint, len(img.frames)),
			LoopCount: 0, // infinite
		}
		for _, frame := range img.frames {
			ani.Images = append(ani.Images, frame)
		}
		if err := nativewebp.EncodeAll(&buf, ani, nil); err != nil {
			return nil, errors.Wrap(err, "failed to encode animated webp")
		}
		return buf.Bytes(), nil
	}

	if err := nativewebp.Encode(&buf, img.frames[0], nil); err != nil {
		return nil, errors.Wrap(err, "failed to encode webp")
	}
	return buf.Bytes(), nil
}

// cwebpEncode shells out to the configured cwebp binary. cwebp reads
// png/jpeg/webp input only.
func (p *Processor) cwebpEncode(ctx context.Context, data []byte) ([]byte, error) {
	switch http.DetectContentType(data) {
	case "image/png", "image/jpeg", "image/webp":
	default:
		return nil, errors.New("input format not supported by cwebp")
	}

	in, err := os.CreateTemp("", "linkhoard_cwebp_in_*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp input")
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, errors.Wrap(err, "failed to write temp input")
	}
	in.Close()

	out, err := os.CreateTemp("", "linkhoard_cwebp_out_*.webp")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp output")
	}
	out.Close()
	defer os.Remove(out.Name())

	cmd := exec.CommandContext(ctx, p.cwebpPath,
		"-quiet",
		"-q", strconv.Itoa(p.quality),
		in.Name(),
		"-o", out.Name(),
	)
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrap(err, "cwebp failed")
	}

	result, err := os.ReadFile(out.Name())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cwebp output")
	}
	return result, nil
}

// decodeImage decodes raw bytes into NRGBA frames. GIFs with two or
// more frames decode as animations; everything else as a single still.
func decodeImage(data []byte) (*decodedImage, error) {
	if http.DetectContentType(data) == "image/gif" {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err == nil && len(g.Image) >= 2 {
			return decodeGIFFrames(g), nil
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	frame := imaging.Clone(img)
	bounds := frame.Bounds()
	return &decodedImage{
		frames: []*image.NRGBA{frame},
		width:  bounds.Dx(),
		height: bounds.Dy(),
	}, nil
}

// decodeGIFFrames composes each paletted GIF frame onto a canvas so
// partial frames render on top of their predecessors.
func decodeGIFFrames(g *gif.GIF) *decodedImage {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewNRGBA(bounds)

	frames := make([]*image.NRGBA, 0, len(g.Image))
	durations := make([]uint, 0, len(g.Image))
	for i, frame := range g.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, imaging.Clone(canvas))

		// GIF delays are in centiseconds; WebP wants milliseconds.
		delay := 100
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = g.Delay[i] * 10
		}
		durations = append(durations, uint(delay))
	}

	return &decodedImage{
		frames:    frames,
		durations: durations,
		width:     bounds.Dx(),
		height:    bounds.Dy(),
		animated:  true,
	}
}

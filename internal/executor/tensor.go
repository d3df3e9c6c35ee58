package executor

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	lua "github.com/yuin/gopher-lua"
)

// tensor is a generated image as returned by a script: nested tables of
// floats, flattened with its shape recorded.
type tensor struct {
	shape []int
	data  []float64
}

// decodeTensor converts a nested Lua table of numbers into a tensor.
func decodeTensor(v lua.LValue) (*tensor, error) {
	data, shape, err := decodeLevel(v)
	if err != nil {
		return nil, err
	}
	return &tensor{shape: shape, data: data}, nil
}

func decodeLevel(v lua.LValue) ([]float64, []int, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, nil, fmt.Errorf("expected table, got %s", v.Type())
	}

	n := tbl.Len()
	if n == 0 {
		return nil, []int{0}, nil
	}

	if _, nested := tbl.RawGetInt(1).(*lua.LTable); nested {
		var data []float64
		var inner []int
		for i := 1; i <= n; i++ {
			d, s, err := decodeLevel(tbl.RawGetInt(i))
			if err != nil {
				return nil, nil, err
			}
			if i == 1 {
				inner = s
			} else if !shapeEqual(inner, s) {
				return nil, nil, fmt.Errorf("ragged tensor at index %d", i)
			}
			data = append(data, d...)
		}
		return data, append([]int{n}, inner...), nil
	}

	data := make([]float64, n)
	for i := 1; i <= n; i++ {
		num, ok := tbl.RawGetInt(i).(lua.LNumber)
		if !ok {
			return nil, nil, fmt.Errorf("non-numeric element at index %d", i)
		}
		data[i-1] = float64(num)
	}
	return data, []int{n}, nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// toImage normalizes a tensor to an 8-bit image: strips a leading batch
// axis, reorders channels-first data to (height, width, channel), scales
// a 0..1 range to 0..255, and picks the color model from the channel count.
func (t *tensor) toImage() (image.Image, error) {
	shape := t.shape
	data := t.data

	if len(shape) == 4 {
		size := shape[1] * shape[2] * shape[3]
		if len(data) < size {
			return nil, fmt.Errorf("tensor data shorter than its shape")
		}
		data = data[:size]
		shape = shape[1:]
	}

	if len(shape) != 3 {
		return nil, fmt.Errorf("unsupported tensor rank %d", len(shape))
	}

	// Channels-first layouts put a tiny first axis up front.
	if shape[0] == 1 || shape[0] == 3 || shape[0] == 4 {
		c, h, w := shape[0], shape[1], shape[2]
		out := make([]float64, len(data))
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					out[(y*w+x)*c+ch] = data[ch*h*w+y*w+x]
				}
			}
		}
		data = out
		shape = []int{h, w, c}
	}

	h, w, c := shape[0], shape[1], shape[2]
	if h == 0 || w == 0 || c == 0 {
		return nil, fmt.Errorf("empty tensor")
	}

	maxVal := 0.0
	for _, f := range data {
		if f > maxVal {
			maxVal = f
		}
	}
	scale := 1.0
	if maxVal <= 1.0 {
		scale = 255.0
	}

	px := func(y, x, ch int) uint8 {
		f := data[(y*w+x)*c+ch] * scale
		if f < 0 {
			f = 0
		}
		if f > 255 {
			f = 255
		}
		return uint8(f)
	}

	switch {
	case c == 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: px(y, x, 0)})
			}
		}
		return img, nil
	case c >= 3:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				a := uint8(255)
				if c == 4 {
					a = px(y, x, 3)
				}
				img.SetNRGBA(x, y, color.NRGBA{R: px(y, x, 0), G: px(y, x, 1), B: px(y, x, 2), A: a})
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", c)
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

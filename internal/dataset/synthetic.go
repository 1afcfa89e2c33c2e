package dataset

import "golang.org/x/exp/rand"

// glyphs are 3x5 bitmaps of the digits 0-9, row by row.
var glyphs = [NumClasses][15]byte{
	{1, 1, 1, 1, 0, 1, 1, 0, 1, 1, 0, 1, 1, 1, 1},
	{0, 1, 0, 1, 1, 0, 0, 1, 0, 0, 1, 0, 1, 1, 1},
	{1, 1, 1, 0, 0, 1, 1, 1, 1, 1, 0, 0, 1, 1, 1},
	{1, 1, 1, 0, 0, 1, 0, 1, 1, 0, 0, 1, 1, 1, 1},
	{1, 0, 1, 1, 0, 1, 1, 1, 1, 0, 0, 1, 0, 0, 1},
	{1, 1, 1, 1, 0, 0, 1, 1, 1, 0, 0, 1, 1, 1, 1},
	{1, 1, 1, 1, 0, 0, 1, 1, 1, 1, 0, 1, 1, 1, 1},
	{1, 1, 1, 0, 0, 1, 0, 1, 0, 0, 1, 0, 0, 1, 0},
	{1, 1, 1, 1, 0, 1, 1, 1, 1, 1, 0, 1, 1, 1, 1},
	{1, 1, 1, 1, 0, 1, 1, 1, 1, 0, 0, 1, 1, 1, 1},
}

const (
	glyphCols  = 3
	glyphRows  = 5
	glyphScale = 4
	noise      = 0.1
)

// Synthetic builds an MNIST-shaped dataset of noisy digit glyphs drawn at
// random positions, with trainSize training and testSize test examples and
// no validation split. Classes cycle 0-9.
func Synthetic(trainSize, testSize int, seed uint64) *DataSet {
	rng := rand.New(rand.NewSource(seed))
	trainX, trainY := glyphImages(rng, trainSize)
	testX, testY := glyphImages(rng, testSize)
	return &DataSet{
		Train:      NewSplit(trainX, trainY, seed),
		Validation: NewSplit(nil, nil, seed+1),
		Test:       NewSplit(testX, testY, seed+2),
	}
}

func glyphImages(rng *rand.Rand, n int) (images, labels [][]float64) {
	images = make([][]float64, n)
	labels = make([][]float64, n)
	maxX := Cols - glyphCols*glyphScale
	maxY := Rows - glyphRows*glyphScale

	for i := 0; i < n; i++ {
		digit := i % NumClasses
		img := make([]float64, ImageSize)
		for j := range img {
			img[j] = rng.Float64() * noise
		}

		offX, offY := rng.Intn(maxX+1), rng.Intn(maxY+1)
		for gy := 0; gy < glyphRows; gy++ {
			for gx := 0; gx < glyphCols; gx++ {
				if glyphs[digit][gy*glyphCols+gx] == 0 {
					continue
				}
				for sy := 0; sy < glyphScale; sy++ {
					for sx := 0; sx < glyphScale; sx++ {
						y := offY + gy*glyphScale + sy
						x := offX + gx*glyphScale + sx
						img[y*Cols+x] = 1 - rng.Float64()*noise
					}
				}
			}
		}
		images[i] = img
		labels[i] = OneHot(digit, NumClasses)
	}
	return images, labels
}

package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Magic numbers of the IDX files: unsigned byte data with 3 (images) or
// 1 (labels) dimensions.
const (
	imagesMagic = 0x00000803
	labelsMagic = 0x00000801
)

// Standard MNIST file names, without the optional .gz suffix.
const (
	TrainImagesFile = "train-images-idx3-ubyte"
	TrainLabelsFile = "train-labels-idx1-ubyte"
	TestImagesFile  = "t10k-images-idx3-ubyte"
	TestLabelsFile  = "t10k-labels-idx1-ubyte"
)

// preallocLimit caps how many image rows are reserved up front from an
// untrusted header count.
const preallocLimit = 1 << 16

// ErrMismatch is returned when an image file and its label file disagree
// on the number of examples.
var ErrMismatch = errors.New("image and label counts differ")

// Load reads the four MNIST IDX files from dir, gzipped or not. The first
// validationSize training examples become the Validation split. seed drives
// the shuffling of every split.
func Load(dir string, validationSize int, seed uint64) (*DataSet, error) {
	trainX, trainY, err := loadPair(dir, TrainImagesFile, TrainLabelsFile)
	if err != nil {
		return nil, errors.Wrap(err, "training set")
	}
	testX, testY, err := loadPair(dir, TestImagesFile, TestLabelsFile)
	if err != nil {
		return nil, errors.Wrap(err, "test set")
	}
	if validationSize < 0 || validationSize > len(trainX) {
		return nil, errors.Errorf("validation size %d out of range [0, %d]", validationSize, len(trainX))
	}

	return &DataSet{
		Train:      NewSplit(trainX[validationSize:], trainY[validationSize:], seed),
		Validation: NewSplit(trainX[:validationSize], trainY[:validationSize], seed+1),
		Test:       NewSplit(testX, testY, seed+2),
	}, nil
}

func loadPair(dir, imagesName, labelsName string) (images, labels [][]float64, err error) {
	images, err = readFile(dir, imagesName, ReadImages)
	if err != nil {
		return nil, nil, err
	}
	labels, err = readFile(dir, labelsName, ReadLabels)
	if err != nil {
		return nil, nil, err
	}
	if len(images) != len(labels) {
		return nil, nil, errors.Wrapf(ErrMismatch, "%s has %d, %s has %d",
			imagesName, len(images), labelsName, len(labels))
	}
	return images, labels, nil
}

// readFile opens dir/name.gz, falling back to dir/name, and decodes it.
func readFile(dir, name string, decode func(io.Reader) ([][]float64, error)) ([][]float64, error) {
	path := filepath.Join(dir, name+".gz")
	f, err := os.Open(path)
	gzipped := err == nil
	if os.IsNotExist(err) {
		path = filepath.Join(dir, name)
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "gunzip %s", path)
		}
		defer gz.Close()
		r = gz
	}

	data, err := decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// ReadImages decodes an IDX3 image file into rows of intensities in [0, 1].
func ReadImages(r io.Reader) ([][]float64, error) {
	var header struct {
		Magic, Count, Rows, Cols uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "header")
	}
	if header.Magic != imagesMagic {
		return nil, errors.Errorf("bad image magic %#08x", header.Magic)
	}
	if header.Rows != Rows || header.Cols != Cols {
		return nil, errors.Errorf("images are %dx%d, want %dx%d", header.Rows, header.Cols, Rows, Cols)
	}

	// Count comes from the file, so memory grows with what is actually read.
	images := make([][]float64, 0, min(header.Count, preallocLimit))
	buf := make([]byte, ImageSize)
	for i := uint32(0); i < header.Count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		img := make([]float64, ImageSize)
		for j, b := range buf {
			img[j] = float64(b) / 255
		}
		images = append(images, img)
	}
	return images, nil
}

// ReadLabels decodes an IDX1 label file into one-hot vectors.
func ReadLabels(r io.Reader) ([][]float64, error) {
	var header struct {
		Magic, Count uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "header")
	}
	if header.Magic != labelsMagic {
		return nil, errors.Errorf("bad label magic %#08x", header.Magic)
	}

	raw, err := io.ReadAll(io.LimitReader(r, int64(header.Count)))
	if err != nil {
		return nil, errors.Wrap(err, "labels")
	}
	if len(raw) != int(header.Count) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "labels: got %d of %d", len(raw), header.Count)
	}
	labels := make([][]float64, len(raw))
	for i, b := range raw {
		if int(b) >= NumClasses {
			return nil, errors.Errorf("label %d of example %d out of range", b, i)
		}
		labels[i] = OneHot(int(b), NumClasses)
	}
	return labels, nil
}

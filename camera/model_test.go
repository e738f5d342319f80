package camera

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/vio/logging"
)

func newTestModel(t *testing.T, distortion Distorter) *Model {
	t.Helper()
	model, err := NewModel(&PinholeCameraIntrinsics{
		Width:  640,
		Height: 480,
		Fx:     600,
		Fy:     600,
		Ppx:    320,
		Ppy:    240,
	}, distortion, 0)
	test.That(t, err, test.ShouldBeNil)
	return model
}

func randomBearing(rng *rand.Rand, maxRadius float64) r3.Vector {
	pt := randomPlanePoint(rng, maxRadius)
	return r3.Vector{X: pt.X, Y: pt.Y, Z: 1.0}.Normalize()
}

func TestNewModelValidation(t *testing.T) {
	distortion, err := NewFlatRefractive(1.33)
	test.That(t, err, test.ShouldBeNil)

	_, err = NewModel(&PinholeCameraIntrinsics{Fx: -1, Fy: 600}, distortion, 0)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewModel(&PinholeCameraIntrinsics{Fx: 600, Fy: 600}, nil, 0)
	test.That(t, err, test.ShouldNotBeNil)

	model := newTestModel(t, distortion)
	test.That(t, math.IsInf(model.ValidRadius, 1), test.ShouldBeTrue)
}

func TestProjectUnprojectRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	for name, d := range testDistorters(t) {
		t.Run(name, func(t *testing.T) {
			model := newTestModel(t, d)
			for s := 0; s < 20; s++ {
				bearing := randomBearing(rng, 0.5)
				px, err := model.ProjectBearing(bearing)
				test.That(t, err, test.ShouldBeNil)
				back, err := model.UnprojectPixel(px)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, back.Sub(bearing).Norm(), test.ShouldBeLessThan, 1e-6)
			}
		})
	}
}

func TestProjectBehindCamera(t *testing.T) {
	distortion, err := NewFlatRefractive(1.33)
	test.That(t, err, test.ShouldBeNil)
	model := newTestModel(t, distortion)

	for _, bearing := range []r3.Vector{
		{X: 0.1, Y: 0.1, Z: -1.0},
		{X: 1.0, Y: 0, Z: 0},
	} {
		_, err := model.ProjectBearing(bearing)
		test.That(t, err, test.ShouldBeError, ErrBehindCamera)
		_, _, err = model.ProjectBearingJacobian(bearing)
		test.That(t, err, test.ShouldBeError, ErrBehindCamera)
	}
}

func TestValidRadius(t *testing.T) {
	distortion, err := NewKannalaBrandt([]float64{-0.01, 0.03, -0.02, 0.003})
	test.That(t, err, test.ShouldBeNil)
	model := newTestModel(t, distortion)
	model.ValidRadius = 0.3

	inside := r3.Vector{X: 0.2, Y: 0, Z: 1.0}.Normalize()
	px, err := model.ProjectBearing(inside)
	test.That(t, err, test.ShouldBeNil)
	_, err = model.UnprojectPixel(px)
	test.That(t, err, test.ShouldBeNil)

	outside := r3.Vector{X: 0.4, Y: 0, Z: 1.0}.Normalize()
	_, err = model.ProjectBearing(outside)
	test.That(t, err, test.ShouldBeError, ErrOutsideValidRadius)

	// a pixel whose undistorted radius lands outside the bound is rejected too
	wide := newTestModel(t, distortion)
	farPx, err := wide.ProjectBearing(outside)
	test.That(t, err, test.ShouldBeNil)
	_, err = model.UnprojectPixel(farPx)
	test.That(t, err, test.ShouldBeError, ErrOutsideValidRadius)
}

func TestSelfCheck(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rng := rand.New(rand.NewSource(42))
	for name, d := range testDistorters(t) {
		t.Run(name, func(t *testing.T) {
			model := newTestModel(t, d)
			test.That(t, model.SelfCheck(rng, 50, logger), test.ShouldBeNil)
		})
	}
}

func TestProjectBearingIndexJacobian(t *testing.T) {
	plain, err := NewKannalaBrandt([]float64{-0.01, 0.03, -0.02, 0.003})
	test.That(t, err, test.ShouldBeNil)
	_, _, _, err = newTestModel(t, plain).ProjectBearingIndexJacobian(r3.Vector{Z: 1})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNotRefractive), test.ShouldBeTrue)

	const h = 1e-7
	rng := rand.New(rand.NewSource(17))
	for _, name := range []string{"refractive", "equirefractive"} {
		d := testDistorters(t)[name]
		model := newTestModel(t, d)
		for s := 0; s < 10; s++ {
			bearing := randomBearing(rng, 0.5)
			px, _, dPx, err := model.ProjectBearingIndexJacobian(bearing)
			test.That(t, err, test.ShouldBeNil)

			direct, err := model.ProjectBearing(bearing)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, px, test.ShouldResemble, direct)

			n, ok := model.RefractiveIndex()
			test.That(t, ok, test.ShouldBeTrue)
			model.SetRefractiveIndex(n + h)
			plus, err := model.ProjectBearing(bearing)
			test.That(t, err, test.ShouldBeNil)
			model.SetRefractiveIndex(n - h)
			minus, err := model.ProjectBearing(bearing)
			test.That(t, err, test.ShouldBeNil)
			model.SetRefractiveIndex(n)

			test.That(t, dPx.X, test.ShouldAlmostEqual, (plus.X-minus.X)/(2*h), 1e-2)
			test.That(t, dPx.Y, test.ShouldAlmostEqual, (plus.Y-minus.Y)/(2*h), 1e-2)
		}
	}
}

func TestSetRefractiveIndex(t *testing.T) {
	d, err := NewEquidistantRefractive([]float64{-0.01, 0.03, -0.02, 0.003}, 1.0)
	test.That(t, err, test.ShouldBeNil)
	model := newTestModel(t, d)

	bearing := r3.Vector{X: 0.3, Y: 0.2, Z: 1.0}.Normalize()
	inAir, err := model.ProjectBearing(bearing)
	test.That(t, err, test.ShouldBeNil)

	model.SetRefractiveIndex(1.33)
	n, ok := model.RefractiveIndex()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, n, test.ShouldEqual, 1.33)

	inWater, err := model.ProjectBearing(bearing)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inWater, test.ShouldNotResemble, inAir)

	// refraction pushes projections away from the principal point
	airR := math.Hypot(inAir.X-model.Intrinsics.Ppx, inAir.Y-model.Intrinsics.Ppy)
	waterR := math.Hypot(inWater.X-model.Intrinsics.Ppx, inWater.Y-model.Intrinsics.Ppy)
	test.That(t, waterR, test.ShouldBeGreaterThan, airR)

	plain, err := NewKannalaBrandt(nil)
	test.That(t, err, test.ShouldBeNil)
	_, ok = newTestModel(t, plain).RefractiveIndex()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestNewModelFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig := func(name, contents string) string {
		path := filepath.Join(dir, name)
		test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
		return path
	}

	good := writeConfig("good.json", `{
		"distortion_model": "equirefractive",
		"camera_matrix": [600, 0, 320, 0, 600, 240, 0, 0, 1],
		"distortion_parameters": [-0.01, 0.03, -0.02, 0.003],
		"refractive_index": 1.33,
		"valid_radius": 1.2,
		"width_px": 640,
		"height_px": 480
	}`)
	model, err := NewModelFromJSONFile(good)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Intrinsics.Fx, test.ShouldEqual, 600.0)
	test.That(t, model.Intrinsics.Ppx, test.ShouldEqual, 320.0)
	test.That(t, model.Intrinsics.Width, test.ShouldEqual, 640)
	test.That(t, model.Distortion.ModelType(), test.ShouldEqual, EquirefractiveDistortionType)
	test.That(t, model.ValidRadius, test.ShouldEqual, 1.2)
	n, ok := model.RefractiveIndex()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, n, test.ShouldEqual, 1.33)

	_, err = NewModelFromJSONFile(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "error opening JSON file")

	badModel := writeConfig("bad_model.json", `{
		"distortion_model": "cylindrical",
		"camera_matrix": [600, 0, 320, 0, 600, 240, 0, 0, 1]
	}`)
	_, err = NewModelFromJSONFile(badModel)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "do not know how to parse")

	badMatrix := writeConfig("bad_matrix.json", `{
		"distortion_model": "plumb_bob",
		"camera_matrix": [600, 0, 320]
	}`)
	_, err = NewModelFromJSONFile(badMatrix)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "row-major 3x3")

	badFocal := writeConfig("bad_focal.json", `{
		"distortion_model": "plumb_bob",
		"camera_matrix": [0, 0, 320, 0, 600, 240, 0, 0, 1]
	}`)
	_, err = NewModelFromJSONFile(badFocal)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCameraMatrix(t *testing.T) {
	intrinsics := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 600, Fy: 610, Ppx: 320, Ppy: 240}
	k := intrinsics.GetCameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 600.0)
	test.That(t, k.At(1, 1), test.ShouldEqual, 610.0)
	test.That(t, k.At(0, 2), test.ShouldEqual, 320.0)
	test.That(t, k.At(1, 2), test.ShouldEqual, 240.0)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.0)
}

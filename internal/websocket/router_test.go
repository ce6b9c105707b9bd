package websocket

import (
	"testing"

	"copperline/internal/geometry"
)

type fakeApp struct{}

func (a *fakeApp) Ping() string { return "pong" }

func (a *fakeApp) Move(p geometry.Point) geometry.Point {
	return geometry.Point{X: p.X + 1, Y: p.Y + 1}
}

func (a *fakeApp) Scale(factor int) int { return factor * 2 }

func (a *fakeApp) Fail() error { return &ClientError{Message: "boom"} }

func TestRouter_Call(t *testing.T) {
	r := NewRouter(&fakeApp{})

	result, err := r.Call("Ping", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != "pong" {
		t.Errorf("Expected pong, got %v", result)
	}
}

func TestRouter_ConvertsStructParams(t *testing.T) {
	r := NewRouter(&fakeApp{})

	// JSON 解码后的参数是 map[string]interface{}
	result, err := r.Call("Move", []interface{}{
		map[string]interface{}{"x": 1.5, "y": 2.5},
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	p, ok := result.(geometry.Point)
	if !ok {
		t.Fatalf("Expected geometry.Point, got %T", result)
	}
	if p.X != 2.5 || p.Y != 3.5 {
		t.Errorf("Wrong result: %+v", p)
	}
}

func TestRouter_ConvertsNumericParams(t *testing.T) {
	r := NewRouter(&fakeApp{})

	result, err := r.Call("Scale", []interface{}{float64(3)})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != 6 {
		t.Errorf("Expected 6, got %v", result)
	}
}

func TestRouter_ErrorsPropagate(t *testing.T) {
	r := NewRouter(&fakeApp{})

	if _, err := r.Call("Fail", nil); err == nil {
		t.Error("Expected error from Fail")
	}
	if _, err := r.Call("NoSuchMethod", nil); err == nil {
		t.Error("Expected error for unknown method")
	}
	if _, err := r.Call("Scale", nil); err == nil {
		t.Error("Expected arity error")
	}
}

package gpio

import "testing"

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendAuto, false},
		{"auto", BackendAuto, false},
		{"cdev", BackendCdev, false},
		{" Periph ", BackendPeriph, false},
		{"SIM", BackendSim, false},
		{"rpigpio", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenSim(t *testing.T) {
	port, err := Open(BackendSim, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := port.(*Sim); !ok {
		t.Errorf("expected *Sim, got %T", port)
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open(Backend("bogus"), ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestIsPiCPUInfo(t *testing.T) {
	tests := []struct {
		name string
		info string
		want bool
	}{
		{"pi4", "Hardware\t: BCM2835\nModel\t: Raspberry Pi 4 Model B Rev 1.4\n", true},
		{"bcm only", "Hardware\t: BCM2711\n", true},
		{"x86", "model name\t: Intel(R) Core(TM) i7-8650U CPU\n", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPiCPUInfo(tt.info); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if High.String() != "HIGH" || Low.String() != "LOW" {
		t.Errorf("unexpected level strings: %s %s", High, Low)
	}
}

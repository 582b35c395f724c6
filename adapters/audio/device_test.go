package audio

import "testing"

func TestDeviceIndexMapping(t *testing.T) {
	tests := []struct {
		name    string
		setting int
		want    int
		ok      bool
	}{
		{name: "default", setting: DefaultDevice, ok: false},
		{name: "first device", setting: 1, want: 0, ok: true},
		{name: "third device", setting: 3, want: 2, ok: true},
		{name: "negative", setting: -1, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := deviceIndex(tt.setting)
			if ok != tt.ok {
				t.Fatalf("Expected ok %v, got %v", tt.ok, ok)
			}
			if ok && got != tt.want {
				t.Errorf("Expected device index %d, got %d", tt.want, got)
			}
		})
	}
}

func TestListedIndexSelectsSameDevice(t *testing.T) {
	for i := 0; i < 4; i++ {
		setting := settingIndex(i)
		if setting == DefaultDevice {
			t.Fatalf("Device %d listed with the default setting value", i)
		}
		got, ok := deviceIndex(setting)
		if !ok || got != i {
			t.Errorf("Expected setting %d to select device %d, got %d (ok %v)", setting, i, got, ok)
		}
	}
}

// Package audio captures microphone input and plays remote audio through
// PortAudio.
package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Device describes an input device
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// DefaultDevice is the input_device value selecting the system default.
const DefaultDevice = 0

// settingIndex maps a PortAudio device index to its input_device value.
// Values are shifted by one so that DefaultDevice stays free.
func settingIndex(index int) int {
	return index + 1
}

// deviceIndex maps an input_device value back to a PortAudio device index.
// It reports false for DefaultDevice.
func deviceIndex(setting int) (int, bool) {
	if setting <= DefaultDevice {
		return 0, false
	}
	return setting - 1, true
}

// ListInputDevices returns the devices that can record. Index is the value
// accepted by the input_device setting.
func ListInputDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	inputs := make([]Device, 0)
	for i, device := range devices {
		if device.MaxInputChannels > 0 {
			inputs = append(inputs, Device{
				Index:             settingIndex(i),
				Name:              device.Name,
				MaxInputChannels:  device.MaxInputChannels,
				DefaultSampleRate: device.DefaultSampleRate,
			})
		}
	}
	return inputs, nil
}

// inputParameters resolves the capture device from an input_device value.
// PortAudio must be initialized.
func inputParameters(setting, channels, sampleRate, framesPerBuffer int) (portaudio.StreamParameters, error) {
	var device *portaudio.DeviceInfo
	if index, ok := deviceIndex(setting); ok {
		devices, err := portaudio.Devices()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get devices: %w", err)
		}
		if index >= len(devices) {
			return portaudio.StreamParameters{}, fmt.Errorf("invalid input device %d", setting)
		}
		device = devices[index]
		if device.MaxInputChannels == 0 {
			return portaudio.StreamParameters{}, fmt.Errorf("device %q is not an input device", device.Name)
		}
	} else {
		var err error
		device, err = portaudio.DefaultInputDevice()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get default input device: %w", err)
		}
	}

	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, nil
}

// openInput initializes PortAudio and starts a capture stream that calls
// callback with each buffer. It also returns the device name.
func openInput(index, channels, sampleRate, framesPerBuffer int, callback func(in []int16)) (*portaudio.Stream, string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, "", fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	params, err := inputParameters(index, channels, sampleRate, framesPerBuffer)
	if err != nil {
		portaudio.Terminate()
		return nil, "", err
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		portaudio.Terminate()
		return nil, params.Input.Device.Name, fmt.Errorf("failed to open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, params.Input.Device.Name, fmt.Errorf("failed to start audio stream: %w", err)
	}
	return stream, params.Input.Device.Name, nil
}

// closeInput stops and closes a stream opened by openInput
func closeInput(stream *portaudio.Stream) error {
	stopErr := stream.Stop()
	closeErr := stream.Close()
	portaudio.Terminate()
	if stopErr != nil {
		return fmt.Errorf("failed to stop audio stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close audio stream: %w", closeErr)
	}
	return nil
}

// go-pn532
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn532.
//
// go-pn532 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn532 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn532; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package pn532

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTransportWithRetry_NewTransportWithRetry tests the creation of TransportWithRetry wrapper
func TestTransportWithRetry_NewTransportWithRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		config   *RetryConfig
		expected *RetryConfig
		name     string
	}{
		{
			name:     "Default config when nil provided",
			config:   nil,
			expected: DefaultRetryConfig(),
		},
		{
			name: "Custom config preserved",
			config: &RetryConfig{
				MaxAttempts:       5,
				InitialBackoff:    1 * time.Microsecond, // Minimal delay for fast tests
				MaxBackoff:        10 * time.Microsecond,
				BackoffMultiplier: 2.0,
				Jitter:            0.1,
				RetryTimeout:      100 * time.Millisecond,
			},
			expected: &RetryConfig{
				MaxAttempts:       5,
				InitialBackoff:    1 * time.Microsecond, // Minimal delay for fast tests
				MaxBackoff:        10 * time.Microsecond,
				BackoffMultiplier: 2.0,
				Jitter:            0.1,
				RetryTimeout:      100 * time.Millisecond,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mockTransport := NewMockTransport()
			wrapper := NewTransportWithRetry(mockTransport, tt.config)

			assert.NotNil(t, wrapper)
			assert.Equal(t, mockTransport, wrapper.transport)
			assert.Equal(t, tt.expected, wrapper.config)
		})
	}
}

// TestTransportWithRetry_SendCommand tests the retry logic in SendCommand
func TestTransportWithRetry_SendCommand(t *testing.T) {
	t.Parallel()

	tests := getTransportRetryTestCases()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mockTransport := NewMockTransport()
			tt.setupMock(mockTransport)
			wrapper := NewTransportWithRetry(mockTransport, tt.config)

			result, err := wrapper.SendCommand(tt.cmd, tt.args)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, result)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedResult, result)
			}

			// Note: Mock transport call counting may not be exact due to retry wrapper
			// The important thing is that retries happen and eventually succeed/fail
		})
	}
}

func getTransportRetryTestCases() []struct {
	setupMock      func(*MockTransport)
	config         *RetryConfig
	name           string
	expectedError  string
	args           []byte
	expectedResult []byte
	expectedCalls  int
	cmd            byte
} {
	return []struct {
		setupMock      func(*MockTransport)
		config         *RetryConfig
		name           string
		expectedError  string
		args           []byte
		expectedResult []byte
		expectedCalls  int
		cmd            byte
	}{
		{
			name: "Success on first attempt",
			setupMock: func(m *MockTransport) {
				m.SetResponse(0x02, []byte{0x00, 0x01, 0x02})
			},
			config:         DefaultRetryConfig(),
			cmd:            0x02,
			args:           []byte{0x01},
			expectedResult: []byte{0x00, 0x01, 0x02},
			expectedCalls:  1,
		},
		{
			name: "Timeout errors on all three attempts",
			setupMock: func(m *MockTransport) {
				// Every call fails with a timeout, so all attempts are used up
				m.SetError(0x02, NewTimeoutError("SendCommand", "test"))
			},
			config: &RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    1 * time.Microsecond, // Minimal delay for fast tests
				MaxBackoff:        10 * time.Microsecond,
				BackoffMultiplier: 2.0,
				Jitter:            0.0, // No jitter for predictable timing
				RetryTimeout:      100 * time.Millisecond,
			},
			cmd:           0x02,
			args:          []byte{0x01},
			expectedError: "timeout",
			expectedCalls: 3,
		},
		{
			name: "Non-retryable error fails immediately",
			setupMock: func(m *MockTransport) {
				m.SetError(0xFF, NewInvalidResponseError("Invalid command", "test"))
			},
			config:        DefaultRetryConfig(),
			cmd:           0xFF,
			args:          []byte{},
			expectedError: "invalid response",
			expectedCalls: 1,
		},
		{
			name: "Retryable error exhausts attempts",
			setupMock: func(m *MockTransport) {
				m.SetError(0x02, NewTimeoutError("SendCommand", "test"))
			},
			config: &RetryConfig{
				MaxAttempts:       2,
				InitialBackoff:    1 * time.Microsecond, // Minimal delay for fast tests
				MaxBackoff:        5 * time.Microsecond,
				BackoffMultiplier: 2.0,
				Jitter:            0.0,
				RetryTimeout:      100 * time.Millisecond,
			},
			cmd:           0x02,
			args:          []byte{0x01},
			expectedError: "timeout",
			expectedCalls: 2,
		},
	}
}

// TestTransportWithRetry_Capabilities tests capability delegation
func TestTransportWithRetry_Capabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		transportType     TransportType
		expectedType      TransportType
		expectedConnected bool
	}{
		{
			name:              "UART transport delegation",
			transportType:     TransportUART,
			expectedType:      TransportUART,
			expectedConnected: true,
		},
		{
			name:              "I2C transport delegation",
			transportType:     TransportI2C,
			expectedType:      TransportI2C,
			expectedConnected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mockTransport := NewMockTransport()
			wrapper := NewTransportWithRetry(mockTransport, DefaultRetryConfig())

			// Test type delegation (MockTransport returns TransportMock)
			transportType := wrapper.Type()
			assert.Equal(t, TransportMock, transportType)

			// Test connection status delegation
			isConnected := wrapper.IsConnected()
			assert.Equal(t, tt.expectedConnected, isConnected)
		})
	}
}

// TestTransportWithRetry_SetRetryConfig tests dynamic retry configuration
func TestTransportWithRetry_SetRetryConfig(t *testing.T) {
	t.Parallel()

	mockTransport := NewMockTransport()
	wrapper := NewTransportWithRetry(mockTransport, DefaultRetryConfig())

	// Initial config
	initialConfig := wrapper.config
	assert.NotNil(t, initialConfig)

	// Update config
	newConfig := &RetryConfig{
		MaxAttempts:       10,
		InitialBackoff:    1 * time.Microsecond, // Minimal delay for fast tests
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 1.5,
		Jitter:            0.2,
		RetryTimeout:      100 * time.Millisecond,
	}

	wrapper.SetRetryConfig(newConfig)
	assert.Equal(t, newConfig, wrapper.config)
	assert.NotEqual(t, initialConfig, wrapper.config)
}

// TestTransportWithRetry_Timeout tests timeout handling
func TestTransportWithRetry_Timeout(t *testing.T) {
	t.Parallel()

	mockTransport := NewMockTransport()
	wrapper := NewTransportWithRetry(mockTransport, DefaultRetryConfig())

	// Test timeout delegation
	initialTimeout := 100 * time.Millisecond // Minimal timeout for fast tests
	_ = wrapper.SetTimeout(initialTimeout)

	// Since MockTransport doesn't store timeout, we just verify no panic
	// In real implementations, this would set the underlying transport timeout
	assert.NotPanics(t, func() {
		_ = wrapper.SetTimeout(initialTimeout)
	})
}

// TestTransportWithRetry_Close tests resource cleanup
func TestTransportWithRetry_Close(t *testing.T) {
	t.Parallel()

	mockTransport := NewMockTransport()
	wrapper := NewTransportWithRetry(mockTransport, DefaultRetryConfig())

	// Test close delegation
	err := wrapper.Close()
	require.NoError(t, err)

	// Verify transport is closed (MockTransport doesn't track this, but no error is good)
	assert.False(t, wrapper.IsConnected())
}

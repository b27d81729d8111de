package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidUsername(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"alice", true},
		{"_svc", true},
		{"dev-ops_2", true},
		{"", false},
		{"root", false},
		{"Alice", false},
		{"2fast", false},
		{"-dash", false},
		{"has space", false},
		{"abcdefghijklmnopqrstuvwxyzabcdefg", false},
	}

	for _, tt := range tests {
		err := validUsername(tt.name)
		if tt.ok {
			assert.NoError(t, err, tt.name)
		}else{
			assert.Error(t, err, tt.name)
		}
	}
}

func TestNormalizeDevice(t *testing.T) {
	assert.Equal(t, "/dev/sda", normalizeDevice("sda"))
	assert.Equal(t, "/dev/sda", normalizeDevice(" /dev/sda \n"))
	assert.Equal(t, "/dev/nvme0n1p2", normalizeDevice("nvme0n1p2"))
	assert.Equal(t, "/dev/disk/by-id/ata-disk", normalizeDevice("/dev/disk/by-id/ata-disk"))
	assert.Equal(t, "/dev/sdb", normalizeDevice("sdb; rm -rf /"))
	assert.Equal(t, "", normalizeDevice("  "))
}

func TestPartitionPath(t *testing.T) {
	assert.Equal(t, "/dev/sda1", partitionPath("/dev/sda", 1))
	assert.Equal(t, "/dev/vdb3", partitionPath("/dev/vdb", 3))
	assert.Equal(t, "/dev/nvme0n1p2", partitionPath("/dev/nvme0n1", 2))
	assert.Equal(t, "/dev/mmcblk0p1", partitionPath("/dev/mmcblk0", 1))
	assert.Equal(t, "/dev/loop0p3", partitionPath("/dev/loop0", 3))
}

func TestCheckDistinct(t *testing.T) {
	disk := "/dev/sda"

	assert.NoError(t, checkDistinct(disk, partitionSet{boot: "/dev/sda1", root: "/dev/sda2", swap: "/dev/sda3"}))
	assert.NoError(t, checkDistinct(disk, partitionSet{boot: "/dev/sda1", root: "/dev/sda2"}))

	err := checkDistinct(disk, partitionSet{boot: "/dev/sda1", root: "/dev/sda1"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "boot and root")
	}

	err = checkDistinct(disk, partitionSet{boot: "/dev/sda1", root: "/dev/sda2", swap: "/dev/sda2"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "root and swap")
	}

	err = checkDistinct(disk, partitionSet{boot: "/dev/sda1", root: "/dev/sda"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "whole disk")
	}
}

func TestCheckSecret(t *testing.T) {
	assert.NoError(t, checkSecret("hunter2", "hunter2"))
	assert.ErrorIs(t, checkSecret("", ""), errEmptySecret)
	assert.ErrorIs(t, checkSecret("hunter2", "hunter3"), errSecretMismatch)
}

func TestSummaryHidesSecrets(t *testing.T) {
	req := installRequest{
		username:   "alice",
		password:   "correct horse",
		editor:     editorChoices[2],
		mode:       modeManual,
		disk:       "/dev/nvme0n1",
		filesystem: "xfs",
		encrypt:    true,
		passphrase: "battery staple",
	}
	parts := partitionSet{boot: "/dev/nvme0n1p1", root: "/dev/nvme0n1p3"}

	sum := req.summary(parts, 16384)

	assert.Contains(t, sum, "alice")
	assert.Contains(t, sum, "neovim")
	assert.Contains(t, sum, "/dev/nvme0n1p1 (kept)")
	assert.Contains(t, sum, "/dev/nvme0n1p3 (xfs)")
	assert.Contains(t, sum, "Swap:        none")
	assert.Contains(t, sum, "16384 MiB")
	assert.Contains(t, sum, "LUKS2")
	assert.NotContains(t, sum, "correct horse")
	assert.NotContains(t, sum, "battery staple")
}

//go:build linux

package main

import (
	"os"
	"path/filepath"
)

const componentFile = "thumbshift.xml"

func componentPath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "ibus", "component", componentFile), nil
}

func componentXML(binPath string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<component>
    <name>org.thumbshift.Filter</name>
    <description>Thumb-shift chord filter</description>
    <exec>` + binPath + `</exec>
    <version>` + version + `</version>
    <author>thumbshift</author>
    <license>MIT</license>
    <textdomain>thumbshift</textdomain>
    <engines>
        <engine>
            <name>thumbshift</name>
            <language>ja</language>
            <license>MIT</license>
            <author>thumbshift</author>
            <layout>jp</layout>
            <longname>Thumb Shift</longname>
            <description>Thumb-shift (oyayubi shift) chord filter</description>
            <rank>0</rank>
            <symbol>親</symbol>
        </engine>
    </engines>
</component>
`
}

func installComponent() error {
	path, err := componentPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	binPath, err := os.Executable()
	if err != nil {
		binPath = "/usr/local/bin/thumbshift-ibus"
	}
	return os.WriteFile(path, []byte(componentXML(binPath)), 0644)
}

func uninstallComponent() error {
	path, err := componentPath()
	if err != nil {
		return err
	}
	return os.Remove(path)
}

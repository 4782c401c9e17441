package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

func (cm *ConfigManager) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create file watcher, falling back to polling")
		cm.startPollingWatcher()
		return
	}

	if err := watcher.Add(cm.configPath); err != nil {
		log.WithError(err).WithField("path", cm.configPath).Warn("failed to watch config file, falling back to polling")
		watcher.Close()
		cm.startPollingWatcher()
		return
	}

	// Also watch the directory to catch atomic writes (rename operations)
	configDir := filepath.Dir(cm.configPath)
	if err := watcher.Add(configDir); err != nil {
		log.WithError(err).WithField("dir", configDir).Warn("failed to watch config directory")
	}

	log.WithField("path", cm.configPath).Info("file watcher started using fsnotify")

	go func() {
		defer watcher.Close()

		// Debounce timer to avoid multiple reloads on rapid changes
		var debounceTimer *time.Timer
		debounceDuration := 100 * time.Millisecond

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == cm.configPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.AfterFunc(debounceDuration, func() {
						cm.checkAndReload()
					})
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("file watcher error")

			case <-cm.stopCh:
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				return
			}
		}
	}()
}

// startPollingWatcher is a fallback when fsnotify is not available
func (cm *ConfigManager) startPollingWatcher() {
	ticker := time.NewTicker(5 * time.Second)
	log.WithField("interval", "5s").Info("file watcher started using polling")

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cm.checkAndReload()
			case <-cm.stopCh:
				return
			}
		}
	}()
}

func (cm *ConfigManager) checkAndReload() {
	if cm.configPath == "" {
		return
	}

	info, err := os.Stat(cm.configPath)
	if err != nil {
		return
	}

	if info.ModTime().After(cm.lastMod) {
		cm.mu.Lock()
		oldConfig := cm.config
		if err := cm.load(); err != nil {
			cm.mu.Unlock()
			log.WithError(err).WithField("path", cm.configPath).Warn("failed to reload config")
			return
		}
		cm.mu.Unlock()

		cm.mergeEnvVars()
		newConfig := cm.GetConfig()

		cm.emitChange(oldConfig, newConfig)
		cm.logConfigChanges(oldConfig, newConfig)
	}
}

func (cm *ConfigManager) logConfigChanges(old, updated *FileConfig) {
	if old == nil || updated == nil {
		return
	}
	if old.Port != updated.Port {
		log.WithFields(log.Fields{"field": "port", "old": old.Port, "new": updated.Port}).Info("config changed")
	}
	if old.Debug != updated.Debug {
		log.WithFields(log.Fields{"field": "debug", "old": old.Debug, "new": updated.Debug}).Info("config changed")
	}
	if len(old.UpstreamCredentials) != len(updated.UpstreamCredentials) {
		log.WithFields(log.Fields{"field": "upstream_credentials", "old": len(old.UpstreamCredentials), "new": len(updated.UpstreamCredentials)}).Info("config changed")
	}
	if old.StorageBackend != updated.StorageBackend {
		log.WithFields(log.Fields{"field": "storage_backend", "old": old.StorageBackend, "new": updated.StorageBackend}).Info("config changed")
	}
}

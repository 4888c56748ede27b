package toml

import (
	"context"
	"fmt"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/bnema/arena-relay/internal/ports"
)

// ProxyRepository reads upstream proxies from proxies.toml.
type ProxyRepository struct {
	file catalogFile
}

var _ ports.ProxyRepository = (*ProxyRepository)(nil)

func NewProxyRepository(path string) (*ProxyRepository, error) {
	file, err := newCatalogFile(path, "proxies")
	if err != nil {
		return nil, err
	}
	return &ProxyRepository{file: file}, nil
}

func (r *ProxyRepository) List(ctx context.Context) ([]domain.ProxyDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.file.mu.RLock()
	defer r.file.mu.RUnlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	proxies := make([]domain.ProxyDescriptor, 0, len(doc.Proxies))
	for _, entry := range doc.Proxies {
		proxies = append(proxies, domain.ProxyDescriptor{
			URL:              entry.URL,
			Username:         entry.Username,
			Password:         entry.Password,
			TargetCompatible: entry.TargetCompatible,
		})
	}
	return proxies, nil
}

// Add appends proxy, replacing an entry with the same URL.
func (r *ProxyRepository) Add(ctx context.Context, proxy domain.ProxyDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := proxy.Validate(); err != nil {
		return fmt.Errorf("add proxy: %w", err)
	}

	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	entry := proxySchema{
		URL:              proxy.URL,
		Username:         proxy.Username,
		Password:         proxy.Password,
		TargetCompatible: proxy.TargetCompatible,
	}
	replaced := false
	for i := range doc.Proxies {
		if doc.Proxies[i].URL == entry.URL {
			doc.Proxies[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Proxies = append(doc.Proxies, entry)
	}
	doc.Version = versionOrDefault(doc.Version)

	if err := ctx.Err(); err != nil {
		return err
	}
	return r.file.write(doc)
}

func (r *ProxyRepository) load() (proxiesFile, error) {
	var doc proxiesFile
	if _, err := r.file.read(&doc); err != nil {
		return proxiesFile{}, err
	}
	if err := validateVersion("proxies", doc.Version); err != nil {
		return proxiesFile{}, err
	}
	doc.Version = versionOrDefault(doc.Version)
	return doc, nil
}

// Package factory builds a wired call session from configuration.
//
// A SessionFactory selects the engine implementation, the permission
// authority and the controller settings from a config.Config:
//
//	f, err := factory.NewSessionFactory(cfg)
//	if err != nil {
//	    return err
//	}
//	sess, err := f.CreateSession()
//	if err != nil {
//	    return err
//	}
//	defer sess.Controller.Close()
//
// A caller that owns a real engine passes it with WithEngine; the
// configured engine kind is then ignored.
package factory

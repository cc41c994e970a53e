package config

// Starter is the configuration written by 'credrotate init'. It rotates a
// local demo resource so it works without cloud credentials.
const Starter = `# credrotate configuration
version: 1

# Where state records, history and locks are kept (relative to this file).
state_dir: .credrotate

# Address of the Prometheus endpoint served by 'credrotate watch'.
metrics_addr: ":9464"

specs:
  pgadmin:
    # How long a credential lives. Go durations plus d (days) and w (weeks).
    interval: 1d
    timeout_ms: 30000

    login:
      length: 12
      force_prefix: a

    password:
      length: 32
      lower: true
      upper: true
      numeric: true
      special: true
      min_special: 2
      override_special: "!#$%*-_=+"

    secret_store:
      type: keyring
      service: credrotate

    provisioning:
      type: local
      dir: .credrotate/resources

    resources:
      - name: server
        type: Demo/servers
        identity:
          name: pg-demo
        bind_credential: true
        credential_fields:
          login: properties.administratorLogin
          password: properties.administratorLoginPassword
        fields:
          location: westeurope
          properties.version: "16"
        ignore_changes:
          - properties.availabilityZone
        force_new:
          - location

      - name: firewall
        type: Demo/servers/firewallRules
        identity:
          name: pg-demo-office
        depends_on: [server]
        fields:
          properties.startIpAddress: 10.0.0.1
          properties.endIpAddress: 10.0.0.255
`
